package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/matcher"
	"github.com/example/washer-matching/internal/models"
	"github.com/example/washer-matching/internal/observability"
	"github.com/example/washer-matching/internal/payments"
	"github.com/example/washer-matching/internal/storage"
)

var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrLocationRequired   = errors.New("a valid service location is required")
	ErrServiceNotFound    = errors.New("service not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidStatus      = errors.New("booking is not in a valid status for this action")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrNotBookingCustomer = errors.New("only the customer can review this booking")
	ErrInvalidTip         = errors.New("tip must not be negative")
)

type Resolver interface {
	Resolve(ctx context.Context, mode models.SelectionMode, point models.GeoPoint, chosenID string) (models.ScoredWasher, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.GeoPoint, error)
}

type Payments interface {
	Hold(ctx context.Context, req payments.HoldRequest) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type Dispatcher interface {
	Offer(washerID string, offer models.BookingOffer) error
}

// Service commits bookings. Geocoder, Payments and Dispatch are optional.
type Service struct {
	Matcher  Resolver
	Pool     geo.Pool
	Store    storage.BookingStore
	Geocoder Geocoder
	Payments Payments
	Dispatch Dispatcher
	Logger   *slog.Logger

	Now   func() time.Time
	NewID func() string
}

type CreateRequest struct {
	CustomerID   string           `json:"customer_id"`
	ServiceID    string           `json:"service_id"`
	VehicleID    string           `json:"vehicle_id"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Address      string           `json:"address"`
	Point        *models.GeoPoint `json:"service_location,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	TipCents     int64            `json:"tip_cents,omitempty"`
	Mode         string           `json:"washer_selection_mode,omitempty"`
	WasherID     string           `json:"washer_id,omitempty"`
}

type ReviewRequest struct {
	BookingID  string `json:"booking_id"`
	ReviewerID string `json:"reviewer_id"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment,omitempty"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (req CreateRequest) missing() []string {
	var out []string
	if strings.TrimSpace(req.CustomerID) == "" {
		out = append(out, "customer_id")
	}
	if strings.TrimSpace(req.ServiceID) == "" {
		out = append(out, "service_id")
	}
	if strings.TrimSpace(req.VehicleID) == "" {
		out = append(out, "vehicle_id")
	}
	if req.ScheduledFor.IsZero() {
		out = append(out, "scheduled_for")
	}
	if strings.TrimSpace(req.Address) == "" {
		out = append(out, "address")
	}
	return out
}

func (s *Service) servicePoint(ctx context.Context, req CreateRequest) (models.GeoPoint, error) {
	if req.Point != nil {
		if err := req.Point.Validate(); err != nil {
			return models.GeoPoint{}, err
		}
		return *req.Point, nil
	}
	if s.Geocoder == nil {
		return models.GeoPoint{}, ErrLocationRequired
	}
	p, err := s.Geocoder.Geocode(ctx, req.Address)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("%w: %v", ErrLocationRequired, err)
	}
	return p, nil
}

// Create validates the request, resolves the washer against a fresh pool
// snapshot and persists a pending booking. Nothing is written on failure.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	b, err := s.create(ctx, req)
	if err != nil {
		observability.BookingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	observability.BookingsCreatedTotal.WithLabelValues(string(b.Mode)).Inc()
	return b, nil
}

func (s *Service) create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if missing := req.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	if req.TipCents < 0 {
		return nil, ErrInvalidTip
	}
	mode, err := models.ParseSelectionMode(req.Mode)
	if err != nil {
		return nil, err
	}
	if mode != models.ModeAutomatic && strings.TrimSpace(req.WasherID) == "" {
		return nil, matcher.ErrSelectionRequired
	}
	point, err := s.servicePoint(ctx, req)
	if err != nil {
		return nil, err
	}
	svc, ok, err := s.Store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, req.ServiceID)
	}

	sw, err := s.Matcher.Resolve(ctx, mode, point, strings.TrimSpace(req.WasherID))
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := &models.Booking{
		ID:           s.newID(),
		CustomerID:   req.CustomerID,
		WasherID:     sw.ID,
		ServiceID:    svc.ID,
		VehicleID:    req.VehicleID,
		Mode:         mode,
		Status:       models.StatusPending,
		Address:      strings.TrimSpace(req.Address),
		Point:        point,
		ScheduledFor: req.ScheduledFor,
		PriceCents:   svc.PriceCents,
		TipCents:     req.TipCents,
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if s.Payments != nil && b.PriceCents+b.TipCents > 0 {
		pi, err := s.Payments.Hold(ctx, payments.HoldRequest{
			AmountCents: b.PriceCents,
			TipCents:    b.TipCents,
			BookingID:   b.ID,
			CustomerID:  b.CustomerID,
			WasherID:    b.WasherID,
		})
		if err != nil {
			return nil, fmt.Errorf("payment hold: %w", err)
		}
		b.PaymentIntentID = pi
	}

	if err := s.Store.SaveBooking(ctx, b); err != nil {
		if b.PaymentIntentID != "" {
			if cerr := s.Payments.Cancel(ctx, b.PaymentIntentID); cerr != nil {
				s.logger().Warn("release payment hold failed", "booking_id", b.ID, "error", cerr)
			}
		}
		return nil, fmt.Errorf("save booking: %w", err)
	}

	s.notify(b, svc, sw)
	s.logger().Info("booking created", "booking_id", b.ID, "customer_id", b.CustomerID, "washer_id", b.WasherID, "mode", string(mode), "score", sw.Score)
	return b, nil
}

func (s *Service) notify(b *models.Booking, svc models.Service, sw models.ScoredWasher) {
	if s.Dispatch == nil {
		return
	}
	offer := models.BookingOffer{
		BookingID:    b.ID,
		WasherID:     b.WasherID,
		ServiceName:  svc.Name,
		Address:      b.Address,
		ScheduledFor: b.ScheduledFor,
		DistanceKm:   matcher.RoundDistance(sw.DistanceKm),
		ETAMinutes:   sw.ETAMinutes,
	}
	if err := s.Dispatch.Offer(b.WasherID, offer); err != nil {
		s.logger().Warn("washer notification not delivered", "booking_id", b.ID, "washer_id", b.WasherID, "error", err)
	}
}

func (s *Service) pending(ctx context.Context, id string) (*models.Booking, error) {
	b, ok, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, id)
	}
	if b.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, b.Status)
	}
	return b, nil
}

// claim moves a pending booking to next.Status. Only one concurrent caller
// can win; the others get ErrInvalidStatus.
func (s *Service) claim(ctx context.Context, next *models.Booking) error {
	err := s.Store.TransitionBooking(ctx, next, models.StatusPending)
	if errors.Is(err, storage.ErrStatusConflict) {
		return fmt.Errorf("%w: booking %s changed concurrently", ErrInvalidStatus, next.ID)
	}
	return err
}

// unclaim puts a claimed booking back to pending after its payment call failed.
func (s *Service) unclaim(ctx context.Context, claimed *models.Booking, original models.Booking) {
	original.UpdatedAt = s.now()
	if err := s.Store.TransitionBooking(ctx, &original, claimed.Status); err != nil {
		s.logger().Error("booking not returned to pending after payment failure",
			"booking_id", claimed.ID, "status", string(claimed.Status), "error", err)
	}
}

// Complete marks a pending booking completed and captures its payment hold.
func (s *Service) Complete(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	done := *b
	done.Status = models.StatusCompleted
	done.CompletedAt = &now
	done.UpdatedAt = now
	if err := s.claim(ctx, &done); err != nil {
		return nil, err
	}
	if s.Payments != nil && b.PaymentIntentID != "" {
		if err := s.Payments.Capture(ctx, b.PaymentIntentID); err != nil {
			s.unclaim(ctx, &done, *b)
			return nil, fmt.Errorf("payment capture: %w", err)
		}
	}
	if s.Pool != nil {
		if err := s.Pool.IncrTotalJobs(ctx, done.WasherID); err != nil {
			s.logger().Warn("washer job count not updated", "washer_id", done.WasherID, "error", err)
		}
	}
	return &done, nil
}

// Cancel cancels a pending booking and releases its payment hold.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	cancelled := *b
	cancelled.Status = models.StatusCancelled
	cancelled.UpdatedAt = s.now()
	if err := s.claim(ctx, &cancelled); err != nil {
		return nil, err
	}
	if s.Payments != nil && b.PaymentIntentID != "" {
		if err := s.Payments.Cancel(ctx, b.PaymentIntentID); err != nil {
			s.unclaim(ctx, &cancelled, *b)
			return nil, fmt.Errorf("payment cancel: %w", err)
		}
	}
	return &cancelled, nil
}

// Review records the customer's rating of a completed booking and refreshes
// the washer's public rating from all of their reviews.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (*models.Review, error) {
	if req.BookingID == "" || req.ReviewerID == "" || req.Rating == 0 {
		return nil, ErrMissingFields
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}
	b, ok, err := s.Store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookingNotFound, req.BookingID)
	}
	if b.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: can only review completed bookings", ErrInvalidStatus)
	}
	if _, reviewed, err := s.Store.GetReview(ctx, b.ID); err != nil {
		return nil, err
	} else if reviewed {
		return nil, storage.ErrAlreadyReviewed
	}
	if b.CustomerID != req.ReviewerID {
		return nil, ErrNotBookingCustomer
	}

	r := models.Review{
		BookingID:  b.ID,
		ReviewerID: req.ReviewerID,
		WasherID:   b.WasherID,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  s.now(),
	}
	if err := s.Store.SaveReview(ctx, r); err != nil {
		return nil, err
	}

	avg, n, err := s.Store.WasherRatingStats(ctx, b.WasherID)
	if err != nil {
		s.logger().Warn("washer rating refresh failed", "washer_id", b.WasherID, "error", err)
		return &r, nil
	}
	if s.Pool != nil {
		if err := s.Pool.SetRatingStats(ctx, b.WasherID, avg, n); err != nil {
			s.logger().Warn("washer rating not updated", "washer_id", b.WasherID, "error", err)
		}
	}
	return &r, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingFields), errors.Is(err, ErrInvalidTip), errors.Is(err, models.ErrInvalidMode), errors.Is(err, matcher.ErrSelectionRequired):
		return "invalid_request"
	case errors.Is(err, ErrLocationRequired), errors.Is(err, models.ErrInvalidLocation):
		return "location"
	case errors.Is(err, matcher.ErrNoWashersAvailable):
		return "no_washers"
	case errors.Is(err, matcher.ErrNoWashersInArea):
		return "out_of_range"
	case errors.Is(err, matcher.ErrStaleSelection):
		return "stale_selection"
	case errors.Is(err, matcher.ErrWasherNotFound):
		return "washer_not_found"
	case errors.Is(err, ErrServiceNotFound):
		return "service_not_found"
	default:
		return "internal"
	}
}
