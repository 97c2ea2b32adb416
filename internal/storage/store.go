package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/washer-matching/internal/models"
)

var (
	ErrAlreadyReviewed = errors.New("booking already reviewed")
	// ErrStatusConflict means the booking was not in the expected status when
	// a transition was attempted.
	ErrStatusConflict = errors.New("booking status changed")
)

// BookingStore defines persistence operations for bookings, reviews and the service catalog.
type BookingStore interface {
	GetService(ctx context.Context, id string) (models.Service, bool, error)
	UpsertService(ctx context.Context, s models.Service) error
	SaveBooking(ctx context.Context, b *models.Booking) error
	// TransitionBooking writes b's status, completion and update times only
	// if the stored booking is still in status from.
	TransitionBooking(ctx context.Context, b *models.Booking, from models.BookingStatus) error
	GetBooking(ctx context.Context, id string) (*models.Booking, bool, error)
	SaveReview(ctx context.Context, r models.Review) error
	GetReview(ctx context.Context, bookingID string) (*models.Review, bool, error)
	BookingHistory(ctx context.Context, customerID string) ([]models.BookingRecord, error)
	WasherRatingStats(ctx context.Context, washerID string) (avg float64, count int, err error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]models.Service
	bookings map[string]*models.Booking
	reviews  map[string]models.Review
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string]models.Service),
		bookings: make(map[string]*models.Booking),
		reviews:  make(map[string]models.Review),
	}
}

func (m *MemoryStore) AddService(s models.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *MemoryStore) UpsertService(_ context.Context, s models.Service) error {
	m.AddService(s)
	return nil
}

func (m *MemoryStore) GetService(_ context.Context, id string) (models.Service, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	return s, ok, nil
}

func (m *MemoryStore) SaveBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) TransitionBooking(_ context.Context, b *models.Booking, from models.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok || cur.Status != from {
		return fmt.Errorf("%w: %s is no longer %s", ErrStatusConflict, b.ID, from)
	}
	cur.Status = b.Status
	cur.CompletedAt = b.CompletedAt
	cur.UpdatedAt = b.UpdatedAt
	return nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, false, nil
	}
	cp := *b
	return &cp, true, nil
}

func (m *MemoryStore) SaveReview(_ context.Context, r models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[r.BookingID]; ok {
		return ErrAlreadyReviewed
	}
	m.reviews[r.BookingID] = r
	return nil
}

func (m *MemoryStore) GetReview(_ context.Context, bookingID string) (*models.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[bookingID]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

// BookingHistory returns the customer's completed bookings, most recent first.
func (m *MemoryStore) BookingHistory(_ context.Context, customerID string) ([]models.BookingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.BookingRecord
	for _, b := range m.bookings {
		if b.CustomerID != customerID || b.Status != models.StatusCompleted {
			continue
		}
		rec := models.BookingRecord{
			ID:          b.ID,
			CustomerID:  b.CustomerID,
			WasherID:    b.WasherID,
			Status:      b.Status,
			ServiceName: m.services[b.ServiceID].Name,
		}
		if b.CompletedAt != nil {
			rec.CompletedAt = *b.CompletedAt
		}
		if r, ok := m.reviews[b.ID]; ok {
			r := r
			rec.Review = &r
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}

func (m *MemoryStore) WasherRatingStats(_ context.Context, washerID string) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total, n := 0, 0
	for _, r := range m.reviews {
		if r.WasherID == washerID {
			total += r.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(total) / float64(n), n, nil
}

var (
	_ BookingStore = (*MemoryStore)(nil)
	_ BookingStore = (*PostgresStore)(nil)
)
