package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/washer-matching/internal/models"
)

const EarthRadiusKm = 6371.0

var ErrUnknownWasher = errors.New("washer is not registered in the pool")

// Pool is the washer snapshot source used by the matcher and handlers.
//
// Upsert replaces the whole record and is meant for profile writes. The
// narrow mutators change only their own fields, so concurrent location,
// availability and stats updates never overwrite each other. They return
// ErrUnknownWasher for ids that were never upserted.
type Pool interface {
	Snapshot(ctx context.Context) ([]models.Washer, error)
	Get(ctx context.Context, id string) (models.Washer, bool, error)
	Upsert(ctx context.Context, w models.Washer) error

	UpdateLocation(ctx context.Context, u models.LocationUpdate) error
	IncrTotalJobs(ctx context.Context, id string) error
	SetRatingStats(ctx context.Context, id string, rating float64, totalReviews int) error
}

// Index is an in-memory Pool.
type Index struct {
	mu      sync.RWMutex
	washers map[string]models.Washer
}

func NewIndex() *Index {
	return &Index{washers: make(map[string]models.Washer)}
}

func (g *Index) Upsert(_ context.Context, w models.Washer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	g.washers[w.ID] = w
	return nil
}

func (g *Index) Get(_ context.Context, id string) (models.Washer, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.washers[id]
	return w, ok, nil
}

// mutate applies fn to the stored washer under the write lock.
func (g *Index) mutate(id string, fn func(*models.Washer)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.washers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWasher, id)
	}
	fn(&w)
	g.washers[id] = w
	return nil
}

func (g *Index) UpdateLocation(_ context.Context, u models.LocationUpdate) error {
	return g.mutate(u.WasherID, func(w *models.Washer) { *w = ApplyLocation(*w, u) })
}

func (g *Index) IncrTotalJobs(_ context.Context, id string) error {
	return g.mutate(id, func(w *models.Washer) { w.TotalJobs++ })
}

func (g *Index) SetRatingStats(_ context.Context, id string, rating float64, totalReviews int) error {
	return g.mutate(id, func(w *models.Washer) {
		w.Rating = rating
		w.TotalReviews = totalReviews
	})
}

// Snapshot returns a copy of every washer ordered by id.
func (g *Index) Snapshot(_ context.Context) ([]models.Washer, error) {
	g.mu.RLock()
	out := make([]models.Washer, 0, len(g.washers))
	for _, w := range g.washers {
		out = append(out, w)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplyLocation merges a location message into a washer record.
func ApplyLocation(w models.Washer, u models.LocationUpdate) models.Washer {
	if u.Point != nil {
		w.Location = models.Located(*u.Point)
	}
	if u.Available != nil {
		w.Available = *u.Available
	}
	w.UpdatedAt = u.At
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	return w
}

// DistanceKm is the haversine great-circle distance in kilometers.
func DistanceKm(a, b models.GeoPoint) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
