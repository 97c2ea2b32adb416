package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/washer-matching/internal/eta"
	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/models"
	"github.com/example/washer-matching/internal/observability"
)

// HistoryStore returns a customer's bookings joined with their reviews.
type HistoryStore interface {
	BookingHistory(ctx context.Context, customerID string) ([]models.BookingRecord, error)
}

type Service struct {
	Pool            geo.Pool
	History         HistoryStore
	DefaultSpeedMps float64
	TopN            int
	Logger          *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) snapshot(ctx context.Context, point models.GeoPoint) ([]models.Washer, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}
	pool, err := s.Pool.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load washer pool: %w", err)
	}
	return pool, nil
}

func (s *Service) withETA(sw models.ScoredWasher) models.ScoredWasher {
	sw.ETAMinutes = eta.EstimateMinutes(sw.DistanceKm, s.DefaultSpeedMps)
	return sw
}

// FindTopWashers returns up to limit ranked washers for manual browsing.
func (s *Service) FindTopWashers(ctx context.Context, point models.GeoPoint, limit int) (models.RankedResult, error) {
	start := time.Now()
	pool, err := s.snapshot(ctx, point)
	if err != nil {
		return models.RankedResult{}, err
	}
	if limit <= 0 {
		limit = s.TopN
	}
	res := SelectCandidates(point, pool, limit)
	for i := range res.Washers {
		res.Washers[i] = s.withETA(res.Washers[i])
	}
	observe("top", res.Reason, start)
	observability.CandidatesConsidered.Observe(float64(len(pool)))
	s.logger().Debug("top washers", "pool", len(pool), "in_range", res.Total, "returned", len(res.Washers), "reason", string(res.Reason))
	return res, nil
}

// PreviewBestWasher returns the washer automatic mode would pick right now.
// The preview is advisory; booking creation re-runs the selection.
func (s *Service) PreviewBestWasher(ctx context.Context, point models.GeoPoint) (models.ScoredWasher, error) {
	start := time.Now()
	pool, err := s.snapshot(ctx, point)
	if err != nil {
		return models.ScoredWasher{}, err
	}
	res := SelectCandidates(point, pool, 1)
	observe("preview", res.Reason, start)
	if len(res.Washers) == 0 {
		return models.ScoredWasher{}, emptyErr(res.Reason)
	}
	return s.withETA(res.Washers[0]), nil
}

func (s *Service) FindFavoriteWashers(ctx context.Context, customerID string, point models.GeoPoint) (models.FavoritesResult, error) {
	start := time.Now()
	if customerID == "" {
		return models.FavoritesResult{}, fmt.Errorf("%w: customer id is required", ErrSelectionRequired)
	}
	pool, err := s.snapshot(ctx, point)
	if err != nil {
		return models.FavoritesResult{}, err
	}
	history, err := s.History.BookingHistory(ctx, customerID)
	if err != nil {
		return models.FavoritesResult{}, fmt.Errorf("load booking history: %w", err)
	}
	res := SelectFavorites(customerID, point, history, pool)
	observe("favorites", res.Reason, start)
	return res, nil
}

// Resolve runs the assignment policy for booking creation on a fresh snapshot.
func (s *Service) Resolve(ctx context.Context, mode models.SelectionMode, point models.GeoPoint, chosenID string) (models.ScoredWasher, error) {
	start := time.Now()
	pool, err := s.snapshot(ctx, point)
	if err != nil {
		return models.ScoredWasher{}, err
	}
	sw, err := ResolveWasher(mode, point, pool, chosenID)
	outcome := "matched"
	if err != nil {
		outcome = "failed"
	}
	observability.MatchRequestsTotal.WithLabelValues("resolve_"+string(mode), outcome).Inc()
	observability.MatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return models.ScoredWasher{}, err
	}
	s.logger().Debug("washer resolved", "mode", string(mode), "washer_id", sw.ID, "score", sw.Score, "distance_km", sw.DistanceKm)
	return s.withETA(sw), nil
}

func (s *Service) CountAvailable(ctx context.Context) (models.PoolStats, error) {
	pool, err := s.Pool.Snapshot(ctx)
	if err != nil {
		return models.PoolStats{}, fmt.Errorf("load washer pool: %w", err)
	}
	st := CountAvailable(pool)
	observability.WashersAvailable.Set(float64(st.WithLocation))
	return st, nil
}

func observe(op string, reason models.EmptyReason, start time.Time) {
	outcome := "matched"
	if reason != models.ReasonNone {
		outcome = string(reason)
	}
	observability.MatchRequestsTotal.WithLabelValues(op, outcome).Inc()
	observability.MatchLatency.Observe(time.Since(start).Seconds())
}
