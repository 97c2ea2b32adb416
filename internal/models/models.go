package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInvalidLocation = errors.New("invalid location")

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks the point is a finite coordinate inside the valid
// latitude/longitude ranges.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidLocation)
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidLocation)
	}
	return nil
}

// Location is either a known point (Located) or Unlocated. The zero value is Unlocated.
type Location struct {
	point GeoPoint
	known bool
}

func Located(p GeoPoint) Location { return Location{point: p, known: true} }

func Unlocated() Location { return Location{} }

// Point returns the point and true when the location is known.
func (l Location) Point() (GeoPoint, bool) { return l.point, l.known }

func (l Location) MarshalJSON() ([]byte, error) {
	if !l.known {
		return []byte("null"), nil
	}
	return json.Marshal(l.point)
}

func (l *Location) UnmarshalJSON(b []byte) error {
	if strings.TrimSpace(string(b)) == "null" {
		*l = Unlocated()
		return nil
	}
	var p GeoPoint
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = Located(p)
	return nil
}

const DefaultServiceRadiusKm = 10.0

type Washer struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Rating          float64   `json:"rating"` // 0..5
	TotalJobs       int       `json:"total_jobs"`
	TotalReviews    int       `json:"total_reviews"`
	Location        Location  `json:"location"`
	ServiceRadiusKm float64   `json:"service_radius_km"`
	Available       bool      `json:"is_available"`
	Approved        bool      `json:"is_approved"`
	Active          bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Eligible reports whether the washer may be matched at all:
// available, approved, active and with a known location.
func (w Washer) Eligible() bool {
	if !w.Available || !w.Approved || !w.Active {
		return false
	}
	_, ok := w.Location.Point()
	return ok
}

type ScoredWasher struct {
	Washer
	DistanceKm float64 `json:"distance_km"`
	Score      float64 `json:"score"`
	ETAMinutes float64 `json:"eta_minutes,omitempty"`
	Rank       int     `json:"rank"`
	BestMatch  bool    `json:"is_best_match"`
}

// EmptyReason explains why a match produced no washers.
type EmptyReason string

const (
	ReasonNone        EmptyReason = ""
	ReasonNoWashers   EmptyReason = "no_washers"
	ReasonOutOfRange  EmptyReason = "out_of_range"
	ReasonNoFavorites EmptyReason = "no_favorites"
)

func (r EmptyReason) Message() string {
	switch r {
	case ReasonNoWashers:
		return "No washers available at this time"
	case ReasonOutOfRange:
		return "No washers available within service radius"
	case ReasonNoFavorites:
		return "No favorite washers available right now"
	default:
		return ""
	}
}

type RankedResult struct {
	Washers []ScoredWasher `json:"washers"`
	Total   int            `json:"total"`
	Reason  EmptyReason    `json:"reason,omitempty"`
}

type LastService struct {
	Date        time.Time `json:"date"`
	ServiceName string    `json:"service_name"`
	RatingGiven int       `json:"rating_given"`
}

type FavoriteWasher struct {
	Washer
	DistanceKm         float64     `json:"distance_km"`
	ServicesCount      int         `json:"services_count"`
	AverageRatingGiven float64     `json:"average_rating_given"`
	LastService        LastService `json:"last_service"`
}

type FavoritesResult struct {
	Washers []FavoriteWasher `json:"washers"`
	Reason  EmptyReason      `json:"reason,omitempty"`
}

type PoolStats struct {
	Available    int `json:"available_washers"`
	WithLocation int `json:"washers_with_location"`
}

type SelectionMode string

const (
	ModeAutomatic SelectionMode = "automatic"
	ModeManual    SelectionMode = "manual"
	ModeFavorites SelectionMode = "favorites"
)

var ErrInvalidMode = errors.New("invalid washer selection mode")

// ParseSelectionMode maps an empty string to automatic.
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch SelectionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAutomatic:
		return ModeAutomatic, nil
	case ModeManual:
		return ModeManual, nil
	case ModeFavorites:
		return ModeFavorites, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

type Review struct {
	BookingID  string    `json:"booking_id"`
	ReviewerID string    `json:"reviewer_id"`
	WasherID   string    `json:"washer_id"`
	Rating     int       `json:"rating"` // 1..5
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BookingRecord is one row of a customer's booking history joined with its review.
type BookingRecord struct {
	ID          string
	CustomerID  string
	WasherID    string
	Status      BookingStatus
	ServiceName string
	CompletedAt time.Time
	Review      *Review
}

type Service struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type Booking struct {
	ID              string        `json:"id"`
	CustomerID      string        `json:"customer_id"`
	WasherID        string        `json:"washer_id"`
	ServiceID       string        `json:"service_id"`
	VehicleID       string        `json:"vehicle_id"`
	Mode            SelectionMode `json:"washer_selection_mode"`
	Status          BookingStatus `json:"status"`
	Address         string        `json:"address"`
	Point           GeoPoint      `json:"service_location"`
	ScheduledFor    time.Time     `json:"scheduled_for"`
	PriceCents      int64         `json:"price_cents"`
	TipCents        int64         `json:"tip_cents,omitempty"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// BookingOffer is pushed to a washer's live session when a booking is assigned.
type BookingOffer struct {
	BookingID    string    `json:"booking_id"`
	WasherID     string    `json:"washer_id"`
	ServiceName  string    `json:"service_name"`
	Address      string    `json:"address"`
	ScheduledFor time.Time `json:"scheduled_for"`
	DistanceKm   float64   `json:"distance_km"`
	ETAMinutes   float64   `json:"eta_minutes"`
}

// LocationUpdate is the washer location message carried over Kafka.
type LocationUpdate struct {
	WasherID  string    `json:"washer_id"`
	Point     *GeoPoint `json:"point,omitempty"`
	Available *bool     `json:"is_available,omitempty"`
	At        time.Time `json:"at"`
}
