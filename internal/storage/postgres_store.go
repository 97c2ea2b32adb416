package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/washer-matching/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies every *.sql file in dir in lexical order. Files must be idempotent.
func (p *PostgresStore) Migrate(ctx context.Context, dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	applied := make([]string, 0, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return applied, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}

func (p *PostgresStore) GetService(ctx context.Context, id string) (models.Service, bool, error) {
	var s models.Service
	err := p.db.QueryRowContext(ctx, `SELECT id, name, price_cents FROM services WHERE id = $1`, id).Scan(&s.ID, &s.Name, &s.PriceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Service{}, false, nil
	}
	if err != nil {
		return models.Service{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) UpsertService(ctx context.Context, s models.Service) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO services(id, name, price_cents) VALUES($1,$2,$3) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents`,
		s.ID, s.Name, s.PriceCents)
	return err
}

func (p *PostgresStore) SaveBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings(id, customer_id, washer_id, service_id, vehicle_id, selection_mode, status, address, service_lat, service_lon, scheduled_for, price_cents, tip_cents, payment_intent_id, notes, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		b.ID, b.CustomerID, b.WasherID, b.ServiceID, b.VehicleID, string(b.Mode), string(b.Status), b.Address, b.Point.Lat, b.Point.Lon, b.ScheduledFor, b.PriceCents, b.TipCents, b.PaymentIntentID, b.Notes, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) TransitionBooking(ctx context.Context, b *models.Booking, from models.BookingStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET status=$1, completed_at=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		string(b.Status), b.CompletedAt, b.UpdatedAt, b.ID, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrStatusConflict, b.ID, from)
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, bool, error) {
	var (
		b           models.Booking
		mode, st    string
		completedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, customer_id, washer_id, service_id, vehicle_id, selection_mode, status, address, service_lat, service_lon, scheduled_for, price_cents, tip_cents, payment_intent_id, notes, created_at, updated_at, completed_at FROM bookings WHERE id = $1`, id).
		Scan(&b.ID, &b.CustomerID, &b.WasherID, &b.ServiceID, &b.VehicleID, &mode, &st, &b.Address, &b.Point.Lat, &b.Point.Lon, &b.ScheduledFor, &b.PriceCents, &b.TipCents, &b.PaymentIntentID, &b.Notes, &b.CreatedAt, &b.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	b.Mode = models.SelectionMode(mode)
	b.Status = models.BookingStatus(st)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	return &b, true, nil
}

func (p *PostgresStore) SaveReview(ctx context.Context, r models.Review) error {
	res, err := p.db.ExecContext(ctx, `INSERT INTO reviews(booking_id, reviewer_id, washer_id, rating, comment, created_at) VALUES($1,$2,$3,$4,$5,$6) ON CONFLICT (booking_id) DO NOTHING`,
		r.BookingID, r.ReviewerID, r.WasherID, r.Rating, r.Comment, r.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyReviewed
	}
	return nil
}

func (p *PostgresStore) GetReview(ctx context.Context, bookingID string) (*models.Review, bool, error) {
	var r models.Review
	err := p.db.QueryRowContext(ctx, `SELECT booking_id, reviewer_id, washer_id, rating, comment, created_at FROM reviews WHERE booking_id = $1`, bookingID).
		Scan(&r.BookingID, &r.ReviewerID, &r.WasherID, &r.Rating, &r.Comment, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

const historyQuery = `SELECT b.id, b.customer_id, b.washer_id, b.status, COALESCE(s.name, ''), b.completed_at, r.rating, r.comment, r.created_at
FROM bookings b
LEFT JOIN services s ON s.id = b.service_id
LEFT JOIN reviews r ON r.booking_id = b.id
WHERE b.customer_id = $1 AND b.status = 'completed'
ORDER BY b.completed_at DESC`

func (p *PostgresStore) BookingHistory(ctx context.Context, customerID string) ([]models.BookingRecord, error) {
	rows, err := p.db.QueryContext(ctx, historyQuery, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BookingRecord
	for rows.Next() {
		var (
			rec         models.BookingRecord
			st          string
			completedAt sql.NullTime
			rating      sql.NullInt64
			comment     sql.NullString
			reviewedAt  sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &rec.WasherID, &st, &rec.ServiceName, &completedAt, &rating, &comment, &reviewedAt); err != nil {
			return nil, err
		}
		rec.Status = models.BookingStatus(st)
		if completedAt.Valid {
			rec.CompletedAt = completedAt.Time
		}
		if rating.Valid {
			rec.Review = &models.Review{
				BookingID:  rec.ID,
				ReviewerID: rec.CustomerID,
				WasherID:   rec.WasherID,
				Rating:     int(rating.Int64),
				Comment:    comment.String,
				CreatedAt:  reviewedAt.Time,
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) WasherRatingStats(ctx context.Context, washerID string) (float64, int, error) {
	var (
		avg float64
		n   int
	)
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE washer_id = $1`, washerID).Scan(&avg, &n)
	return avg, n, err
}
