package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/washer-matching/internal/models"
)

// PushDispatcher delivers booking offers over the washer's live session and
// falls back to posting them to a push gateway when the washer is offline.
type PushDispatcher struct {
	Endpoint string // e.g. provider HTTP endpoint
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

// Offer tries the live session first. Any session failure falls through to
// the gateway when one is configured.
func (p *PushDispatcher) Offer(washerID string, offer models.BookingOffer) error {
	if p.WS != nil {
		err := p.WS.Offer(washerID, offer)
		if err == nil {
			return nil
		}
		if p.Endpoint == "" {
			return err
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	return p.post(washerID, offer)
}

func (p *PushDispatcher) post(washerID string, offer models.BookingOffer) error {
	b, err := json.Marshal(map[string]any{"washer_id": washerID, "type": "booking_offer", "offer": offer})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway: unexpected status %d", resp.StatusCode)
	}
	return nil
}
