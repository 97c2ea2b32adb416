package storage

import (
	"context"
	"database/sql/driver"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/washer-matching/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresStore_SaveBooking(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	b := &models.Booking{
		ID: "bk1", CustomerID: "c1", WasherID: "w1", ServiceID: "basic", VehicleID: "v1",
		Mode: models.ModeAutomatic, Status: models.StatusPending, Address: "1 Main St",
		Point: models.GeoPoint{Lat: 26.1, Lon: -80.1}, ScheduledFor: now, PriceCents: 2500,
		TipCents: 300, CreatedAt: now, UpdatedAt: now,
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings(")).
		WithArgs("bk1", "c1", "w1", "basic", "v1", "automatic", "pending", "1 Main St", 26.1, -80.1, now, int64(2500), int64(300), "", "", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveBooking(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetServiceNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, price_cents FROM services")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price_cents"}))

	_, ok, err := store.GetService(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertService(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO services(id, name, price_cents)")).
		WithArgs("basic", "Basic Wash", int64(2500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpsertService(context.Background(), models.Service{ID: "basic", Name: "Basic Wash", PriceCents: 2500}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BookingHistory(t *testing.T) {
	store, mock := newMockStore(t)
	done := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "customer_id", "washer_id", "status", "name", "completed_at", "rating", "comment", "created_at"}).
		AddRow("b1", "c1", "w1", "completed", "Premium", done, int64(5), "great", done).
		AddRow("b2", "c1", "w2", "completed", "Basic", done.Add(-time.Hour), nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings b")).WithArgs("c1").WillReturnRows(rows)

	hist, err := store.BookingHistory(context.Background(), "c1")

	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.StatusCompleted, hist[0].Status)
	assert.Equal(t, "Premium", hist[0].ServiceName)
	assert.Equal(t, done, hist[0].CompletedAt)
	require.NotNil(t, hist[0].Review)
	assert.Equal(t, 5, hist[0].Review.Rating)
	assert.Equal(t, "w1", hist[0].Review.WasherID)
	assert.Nil(t, hist[1].Review)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReviewDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	r := models.Review{BookingID: "b1", ReviewerID: "c1", WasherID: "w1", Rating: 4, CreatedAt: time.Now()}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reviews(")).
		WithArgs("b1", "c1", "w1", 4, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveReview(context.Background(), r)
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionBookingAndGet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	b := &models.Booking{ID: "bk1", Status: models.StatusCompleted, PaymentIntentID: "pi_1", CompletedAt: &now, UpdatedAt: now}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status=$1, completed_at=$2, updated_at=$3 WHERE id=$4 AND status=$5")).
		WithArgs("completed", now, now, "bk1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.TransitionBooking(context.Background(), b, models.StatusPending))

	cols := []string{"id", "customer_id", "washer_id", "service_id", "vehicle_id", "selection_mode", "status", "address", "service_lat", "service_lon", "scheduled_for", "price_cents", "tip_cents", "payment_intent_id", "notes", "created_at", "updated_at", "completed_at"}
	vals := []driver.Value{"bk1", "c1", "w1", "basic", "v1", "manual", "completed", "1 Main St", 26.1, -80.1, now, int64(2500), int64(300), "pi_1", "", now, now, now}
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).WithArgs("bk1").WillReturnRows(sqlmock.NewRows(cols).AddRow(vals...))

	got, ok, err := store.GetBooking(context.Background(), "bk1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.ModeManual, got.Mode)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, int64(300), got.TipCents)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, now, *got.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionBookingStatusConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	b := &models.Booking{ID: "bk1", Status: models.StatusCancelled, UpdatedAt: now}
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=$4 AND status=$5")).
		WithArgs("cancelled", nil, now, "bk1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TransitionBooking(context.Background(), b, models.StatusPending)
	assert.ErrorIs(t, err, ErrStatusConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WasherRatingStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE washer_id = $1")).WithArgs("w1").
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(4.5, int64(2)))

	avg, n, err := store.WasherRatingStats(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 4.5, avg)
	assert.Equal(t, 2, n)
}

func TestPostgresStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("SELECT 2"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("SELECT 1"), 0o600))
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT 2")).WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := store.Migrate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
