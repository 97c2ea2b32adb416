package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/washer-matching/internal/booking"
	"github.com/example/washer-matching/internal/dispatch"
	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/matcher"
	"github.com/example/washer-matching/internal/models"
	"github.com/example/washer-matching/internal/observability"
	"github.com/example/washer-matching/internal/storage"
)

// LocationPublisher hands washer location updates to the ingest pipeline.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// ServiceCatalog stores the washing services customers can book.
type ServiceCatalog interface {
	UpsertService(ctx context.Context, svc models.Service) error
}

// Deps wires the server. Locations is optional; without it location
// updates are applied to Pool directly.
type Deps struct {
	Pool      geo.Pool
	Catalog   ServiceCatalog
	Matcher   *matcher.Service
	Bookings  *booking.Service
	Locations LocationPublisher
	WSReg     *dispatch.WSRegistry
	Logger    *slog.Logger
}

type Server struct {
	pool      geo.Pool
	catalog   ServiceCatalog
	matcher   *matcher.Service
	bookings  *booking.Service
	locations LocationPublisher
	wsreg     *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		pool:      d.Pool,
		catalog:   d.Catalog,
		matcher:   d.Matcher,
		bookings:  d.Bookings,
		locations: d.Locations,
		wsreg:     d.WSReg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/washers/match", s.handleMatch).Methods(http.MethodPost)
	api.HandleFunc("/washers/match", s.handlePoolStats).Methods(http.MethodGet)
	api.HandleFunc("/washers/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/washers/favorites", s.handleFavorites).Methods(http.MethodPost)
	api.HandleFunc("/washers/{id}/location", s.handleWasherLocation).Methods(http.MethodPatch)
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/complete", s.handleCompleteBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancelBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/review", s.handleReviewBooking).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/washers/{id}", s.handleUpsertWasher).Methods(http.MethodPut)
	s.mux.HandleFunc("/internal/services/{id}", s.handleUpsertService).Methods(http.MethodPut)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{washer_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var errCoordinatesRequired = errors.New("latitude and longitude are required")

type pointRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p pointRequest) point() (models.GeoPoint, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return models.GeoPoint{}, errCoordinatesRequired
	}
	gp := models.GeoPoint{Lat: *p.Latitude, Lon: *p.Longitude}
	if err := gp.Validate(); err != nil {
		return models.GeoPoint{}, err
	}
	return gp, nil
}

type matchRequest struct {
	pointRequest
	Limit int `json:"limit"`
}

type favoritesRequest struct {
	pointRequest
	CustomerID string `json:"customer_id"`
}

type washerView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Rating       float64   `json:"rating"`
	TotalJobs    int       `json:"total_jobs"`
	TotalReviews int       `json:"total_reviews"`
	DistanceKm   float64   `json:"distance_km"`
	Score        float64   `json:"score"`
	ETAMinutes   float64   `json:"eta_minutes"`
	Rank         int       `json:"rank"`
	BestMatch    bool      `json:"is_best_match"`
	UpdatedAt    time.Time `json:"last_location_update"`
}

func toWasherView(sw models.ScoredWasher) washerView {
	return washerView{
		ID:           sw.ID,
		Name:         sw.Name,
		Rating:       sw.Rating,
		TotalJobs:    sw.TotalJobs,
		TotalReviews: sw.TotalReviews,
		DistanceKm:   matcher.RoundDistance(sw.DistanceKm),
		Score:        matcher.RoundScore(sw.Score),
		ETAMinutes:   sw.ETAMinutes,
		Rank:         sw.Rank,
		BestMatch:    sw.BestMatch,
		UpdatedAt:    sw.UpdatedAt,
	}
}

type matchResponse struct {
	Washers         []washerView    `json:"washers"`
	Total           int             `json:"total"`
	Showing         int             `json:"showing"`
	Message         string          `json:"message,omitempty"`
	ServiceLocation models.GeoPoint `json:"service_location"`
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	point, err := req.point()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}
	res, err := s.matcher.FindTopWashers(r.Context(), point, req.Limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := matchResponse{
		Washers:         make([]washerView, 0, len(res.Washers)),
		Total:           res.Total,
		Showing:         len(res.Washers),
		Message:         res.Reason.Message(),
		ServiceLocation: point,
	}
	for _, sw := range res.Washers {
		resp.Washers = append(resp.Washers, toWasherView(sw))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.matcher.CountAvailable(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	point, err := req.point()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sw, err := s.matcher.PreviewBestWasher(r.Context(), point)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"washer": toWasherView(sw)})
}

type favoriteView struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Rating             float64            `json:"rating"`
	TotalJobs          int                `json:"total_jobs"`
	TotalReviews       int                `json:"total_reviews"`
	DistanceKm         float64            `json:"distance_km"`
	ServicesCount      int                `json:"services_count"`
	AverageRatingGiven float64            `json:"average_rating_given"`
	LastService        models.LastService `json:"last_service"`
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	var req favoritesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	point, err := req.point()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	res, err := s.matcher.FindFavoriteWashers(r.Context(), req.CustomerID, point)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]favoriteView, 0, len(res.Washers))
	for _, fw := range res.Washers {
		out = append(out, favoriteView{
			ID:                 fw.ID,
			Name:               fw.Name,
			Rating:             fw.Rating,
			TotalJobs:          fw.TotalJobs,
			TotalReviews:       fw.TotalReviews,
			DistanceKm:         matcher.RoundDistance(fw.DistanceKm),
			ServicesCount:      fw.ServicesCount,
			AverageRatingGiven: matcher.RoundRating(fw.AverageRatingGiven),
			LastService:        fw.LastService,
		})
	}
	var msg *string
	if m := res.Reason.Message(); m != "" {
		msg = &m
	}
	writeJSON(w, http.StatusOK, map[string]any{"washers": out, "message": msg})
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b})
}

func (s *Server) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": b})
}

func (s *Server) handleReviewBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.ReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.BookingID = mux.Vars(r)["id"]
	rev, err := s.bookings.Review(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"review": rev})
}

type locationRequest struct {
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	IsAvailable *bool    `json:"is_available"`
}

func (s *Server) handleWasherLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := models.LocationUpdate{WasherID: id, Available: req.IsAvailable, At: time.Now().UTC()}
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		p, err := pointRequest{Latitude: req.Latitude, Longitude: req.Longitude}.point()
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		u.Point = &p
	case req.Latitude != nil || req.Longitude != nil:
		writeError(w, http.StatusBadRequest, "latitude and longitude must be sent together")
		return
	case req.IsAvailable == nil:
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if s.locations != nil {
		_, ok, err := s.pool.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "washer not found")
			return
		}
		if err := s.locations.PublishLocation(r.Context(), u); err != nil {
			s.writeServiceError(w, r, fmt.Errorf("publish location: %w", err))
			return
		}
	} else if err := s.pool.UpdateLocation(r.Context(), u); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	observability.LocationUpdatesTotal.Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpsertWasher(w http.ResponseWriter, r *http.Request) {
	var wr models.Washer
	if err := decodeJSON(r, &wr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	wr.ID = mux.Vars(r)["id"]
	if p, ok := wr.Location.Point(); ok {
		if err := p.Validate(); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	if wr.Rating < 0 || wr.Rating > matcher.MaxRating {
		writeError(w, http.StatusBadRequest, "rating must be between 0 and 5")
		return
	}
	if wr.ServiceRadiusKm <= 0 {
		wr.ServiceRadiusKm = models.DefaultServiceRadiusKm
	}
	wr.UpdatedAt = time.Now().UTC()
	if err := s.pool.Upsert(r.Context(), wr); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

func (s *Server) handleUpsertService(w http.ResponseWriter, r *http.Request) {
	var svc models.Service
	if err := decodeJSON(r, &svc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc.ID = mux.Vars(r)["id"]
	if strings.TrimSpace(svc.Name) == "" || svc.PriceCents < 0 {
		writeError(w, http.StatusBadRequest, "name is required and price_cents must not be negative")
		return
	}
	if err := s.catalog.UpsertService(r.Context(), svc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["washer_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "washer_id", id, "error", err)
		return
	}
	s.wsreg.Add(id, conn)
	s.logger.Info("washer session opened", "washer_id", id)
	go func() {
		defer s.wsreg.Remove(id, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.logger.Debug("washer session closed", "washer_id", id, "error", err)
				return
			}
		}
	}()
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, errCoordinatesRequired),
		errors.Is(err, models.ErrInvalidLocation),
		errors.Is(err, models.ErrInvalidMode),
		errors.Is(err, matcher.ErrSelectionRequired),
		errors.Is(err, booking.ErrMissingFields),
		errors.Is(err, booking.ErrLocationRequired),
		errors.Is(err, booking.ErrInvalidTip),
		errors.Is(err, booking.ErrInvalidRating):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, matcher.ErrNoWashersAvailable),
		errors.Is(err, matcher.ErrNoWashersInArea),
		errors.Is(err, matcher.ErrWasherNotFound),
		errors.Is(err, geo.ErrUnknownWasher),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, booking.ErrServiceNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, matcher.ErrStaleSelection),
		errors.Is(err, booking.ErrInvalidStatus),
		errors.Is(err, storage.ErrAlreadyReviewed):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, booking.ErrNotBookingCustomer):
		status, msg = http.StatusForbidden, err.Error()
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
