package dispatch

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/washer-matching/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// Conn is the subset of *websocket.Conn used for pushing offers.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// WSSession represents a connected washer session
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.BookingOffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds washer sessions
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for washerID, closing any previous session for that washer.
func (r *WSRegistry) Add(washerID string, conn Conn) {
	r.mu.Lock()
	prev := r.sessions[washerID]
	r.sessions[washerID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
}

// Remove drops the session only if conn is still the registered one.
func (r *WSRegistry) Remove(washerID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[washerID]; ok && s.conn == conn {
		delete(r.sessions, washerID)
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Offer pushes a booking offer to the washer's live session.
func (r *WSRegistry) Offer(washerID string, offer models.BookingOffer) error {
	r.mu.RLock()
	s, ok := r.sessions[washerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(offer); err != nil {
		r.Remove(washerID, s.conn)
		return err
	}
	return nil
}

var _ Conn = (*websocket.Conn)(nil)
