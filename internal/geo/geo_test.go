package geo

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/washer-matching/internal/models"
)

func pt(lat, lon float64) models.GeoPoint { return models.GeoPoint{Lat: lat, Lon: lon} }

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      models.GeoPoint
		wantKm    float64
		tolerance float64
	}{
		{name: "same point", a: pt(26.1224, -80.1373), b: pt(26.1224, -80.1373), wantKm: 0, tolerance: 0},
		{name: "Fort Lauderdale to Hollywood", a: pt(26.1224, -80.1373), b: pt(26.0112, -80.1495), wantKm: 12.6, tolerance: 0.5},
		{name: "New York to Los Angeles", a: pt(40.7128, -74.0060), b: pt(34.0522, -118.2437), wantKm: 3944, tolerance: 50},
		{name: "one degree of latitude", a: pt(0, 0), b: pt(1, 0), wantKm: 111.19, tolerance: 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			assert.InDelta(t, tt.wantKm, got, tt.tolerance)
		})
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	points := []models.GeoPoint{pt(0, 0), pt(26.1224, -80.1373), pt(-33.86, 151.2), pt(89.9, 179.9), pt(-45, -179.5)}
	for _, a := range points {
		for _, b := range points {
			assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-6)
		}
	}
}

func TestDistanceKm_Identity(t *testing.T) {
	for _, p := range []models.GeoPoint{pt(0, 0), pt(90, 0), pt(-12.5, 130.8)} {
		assert.Equal(t, 0.0, DistanceKm(p, p))
	}
}

func TestDistanceKm_TriangleInequality(t *testing.T) {
	a, b, c := pt(26.1224, -80.1373), pt(26.0112, -80.1495), pt(25.7617, -80.1918)
	assert.LessOrEqual(t, DistanceKm(a, c), DistanceKm(a, b)+DistanceKm(b, c)+1e-9)
	assert.False(t, math.IsNaN(DistanceKm(pt(0, 0), pt(0, 180))))
}

func TestIndex_SnapshotSortedCopy(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, models.Washer{ID: "b", Rating: 4}))
	require.NoError(t, idx.Upsert(ctx, models.Washer{ID: "a", Rating: 3}))

	snap, err := idx.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.False(t, snap[0].UpdatedAt.IsZero())

	snap[0].Rating = 0
	w, ok, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, w.Rating)

	_, ok, _ = idx.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestApplyLocation(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	off := false
	w := ApplyLocation(models.Washer{ID: "w", Available: true}, models.LocationUpdate{WasherID: "w", Point: &models.GeoPoint{Lat: 1, Lon: 2}, Available: &off, At: at})
	p, ok := w.Location.Point()
	require.True(t, ok)
	assert.Equal(t, pt(1, 2), p)
	assert.False(t, w.Available)
	assert.Equal(t, at, w.UpdatedAt)

	w = ApplyLocation(w, models.LocationUpdate{WasherID: "w"})
	_, ok = w.Location.Point()
	assert.True(t, ok, "location kept when message has none")
	assert.False(t, w.UpdatedAt.IsZero())
}

func TestIndex_ConcurrentMutatorsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, models.Washer{ID: "w1", Available: true, Approved: true, Active: true}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, idx.IncrTotalJobs(ctx, "w1"))
		}()
		go func() {
			defer wg.Done()
			offline := false
			assert.NoError(t, idx.UpdateLocation(ctx, models.LocationUpdate{WasherID: "w1", Available: &offline}))
		}()
	}
	wg.Wait()

	w, _, _ := idx.Get(ctx, "w1")
	assert.Equal(t, 50, w.TotalJobs)
	assert.False(t, w.Available)
}

func TestIndex_MutatorsRejectUnknownWasher(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()

	assert.ErrorIs(t, idx.IncrTotalJobs(ctx, "ghost"), ErrUnknownWasher)
	assert.ErrorIs(t, idx.SetRatingStats(ctx, "ghost", 4, 1), ErrUnknownWasher)
	assert.ErrorIs(t, idx.UpdateLocation(ctx, models.LocationUpdate{WasherID: "ghost"}), ErrUnknownWasher)
	ws, _ := idx.Snapshot(ctx)
	assert.Empty(t, ws)
}
