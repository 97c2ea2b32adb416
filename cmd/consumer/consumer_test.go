package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/models"
)

// flakyPool fails the first fail location updates.
type flakyPool struct {
	*geo.Index
	fail, calls int
}

func (f *flakyPool) UpdateLocation(ctx context.Context, u models.LocationUpdate) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("pool unavailable")
	}
	return f.Index.UpdateLocation(ctx, u)
}

func seeded(t *testing.T) *geo.Index {
	t.Helper()
	idx := geo.NewIndex()
	require.NoError(t, idx.Upsert(context.Background(), models.Washer{ID: "w1", Rating: 4.5, Available: true, Approved: true, Active: true}))
	return idx
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &flakyPool{Index: seeded(t), fail: 2}
	p := models.GeoPoint{Lat: 1, Lon: 2}
	start := time.Now()

	err := applyWithRetry(context.Background(), f, models.LocationUpdate{WasherID: "w1", Point: &p}, 3, 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	w, _, _ := f.Index.Get(context.Background(), "w1")
	got, ok := w.Location.Point()
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &flakyPool{Index: seeded(t), fail: 5}
	p := models.GeoPoint{Lat: 1, Lon: 2}

	err := applyWithRetry(context.Background(), f, models.LocationUpdate{WasherID: "w1", Point: &p}, 3, 5*time.Millisecond)

	require.Error(t, err)
	assert.Equal(t, 3, f.calls)
}

func TestApplyWithRetry_UnknownWasherIsNotRetried(t *testing.T) {
	f := &flakyPool{Index: seeded(t)}
	avail := false

	err := applyWithRetry(context.Background(), f, models.LocationUpdate{WasherID: "ghost", Available: &avail}, 3, time.Millisecond)

	assert.ErrorIs(t, err, geo.ErrUnknownWasher)
	assert.Equal(t, 1, f.calls)
}

func TestDecodeLocation(t *testing.T) {
	u, err := decodeLocation([]byte(`{"washer_id":"w1","point":{"lat":26.1,"lon":-80.1},"at":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "w1", u.WasherID)
	require.NotNil(t, u.Point)

	for _, bad := range []string{
		`not json`,
		`{"point":{"lat":1,"lon":1}}`,
		`{"washer_id":"w1"}`,
		`{"washer_id":"w1","point":{"lat":100,"lon":1}}`,
	} {
		_, err := decodeLocation([]byte(bad))
		assert.ErrorIs(t, err, errInvalidMessage, bad)
	}
}

func TestApply_RedisPool(t *testing.T) {
	mr := miniredis.RunT(t)
	pool := geo.NewRedisGeoWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "washers_geo")
	ctx := context.Background()
	require.NoError(t, pool.Upsert(ctx, models.Washer{ID: "w1", Name: "Ana", Rating: 4.8, ServiceRadiusKm: 15, TotalJobs: 3, Available: true, Approved: true, Active: true}))
	require.NoError(t, pool.IncrTotalJobs(ctx, "w1"))

	p := models.GeoPoint{Lat: 26.1224, Lon: -80.1373}
	avail := false
	require.NoError(t, applyWithRetry(ctx, pool, models.LocationUpdate{WasherID: "w1", Point: &p, Available: &avail}, 1, time.Millisecond))

	w, ok, err := pool.Get(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	got, located := w.Location.Point()
	require.True(t, located)
	assert.InDelta(t, p.Lat, got.Lat, 1e-4)
	assert.False(t, w.Available)
	assert.Equal(t, "Ana", w.Name)
	assert.Equal(t, 15.0, w.ServiceRadiusKm)
	assert.Equal(t, 4, w.TotalJobs)
}
