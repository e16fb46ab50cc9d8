package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/feed"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/maps"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/transition"
	"github.com/example/ride-dispatch/internal/ws"
)

// Deps carries the wired services the HTTP surface exposes.
type Deps struct {
	Store      storage.EntityStore
	Lifecycle  *lifecycle.Service
	Dispatcher *dispatch.Dispatcher
	Locations  geo.Locations
	Throttle   *geo.Throttle
	Publisher  feed.Publisher
	Hub        *ws.Hub
	Router     maps.Service

	DefaultTenantID int64
	Currency        string
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings", s.handleListBookings).Methods("GET")
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{id}/status", s.handleChangeStatus).Methods("POST")
	api.HandleFunc("/bookings/{id}/assign", s.handleAssignDriver).Methods("POST")
	api.HandleFunc("/bookings/{id}/reminder", s.handleReminder).Methods("POST")
	api.HandleFunc("/bookings/{id}/payment-notice", s.handlePaymentNotice).Methods("POST")
	api.HandleFunc("/drivers", s.handleListDrivers).Methods("GET")
	api.HandleFunc("/drivers/{id}/presence", s.handlePresence).Methods("POST")
	api.HandleFunc("/notifications", s.handleListNotifications).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/route", s.handleRoute).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{topic}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) tenantID(r *http.Request) int64 {
	if h := r.Header.Get("X-Tenant-ID"); h != "" {
		if id, err := strconv.ParseInt(h, 10, 64); err == nil {
			return id
		}
	}
	return s.deps.DefaultTenantID
}

func roleOf(r *http.Request) transition.Role {
	if r.Header.Get("X-Role") == "admin" {
		return transition.RoleAdmin
	}
	return transition.RoleDriver
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForError maps storage and lifecycle sentinels to HTTP codes.
func statusForError(err error) int {
	var rej *lifecycle.RejectionError
	switch {
	case errors.As(err, &rej):
		return http.StatusConflict
	case errors.Is(err, storage.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID int64             `json:"driver_id"`
		Amount   string            `json:"amount"`
		FormData map[string]string `json:"form_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	b := &models.Booking{
		TenantID: s.tenantID(r),
		Status:   models.BookingScheduled,
		Amount:   req.Amount,
		FormData: req.FormData,
	}
	if err := s.deps.Store.InsertBooking(r.Context(), b); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	e := feed.Event{Op: feed.OpInsert, Topic: feed.TopicBookings, TenantID: b.TenantID, Key: b.ID, Booking: b}
	if err := s.deps.Publisher.Publish(r.Context(), e); err != nil {
		s.logger.Warn("feed publish failed", "topic", e.Topic, "key", e.Key, "error", err)
	} else {
		observability.FeedEventsPublished.WithLabelValues(e.Topic).Inc()
	}
	if req.DriverID != 0 {
		res, err := s.deps.Lifecycle.AssignDriver(r.Context(), b.TenantID, b.ID, req.DriverID, roleOf(r))
		if err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
		b = res.Booking
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListBookings(r.Context(), s.tenantID(r))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad booking id", 400)
		return
	}
	b, err := s.deps.Store.GetBooking(r.Context(), s.tenantID(r), id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, b)
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad booking id", 400)
		return
	}
	var req struct {
		Status models.BookingStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	res, err := s.deps.Lifecycle.ChangeStatus(r.Context(), s.tenantID(r), id, req.Status, roleOf(r))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, updateResponse(res))
}

func (s *Server) handleAssignDriver(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad booking id", 400)
		return
	}
	var req struct {
		DriverID int64 `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	res, err := s.deps.Lifecycle.AssignDriver(r.Context(), s.tenantID(r), id, req.DriverID, roleOf(r))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, updateResponse(res))
}

func updateResponse(res *lifecycle.UpdateResult) map[string]any {
	out := map[string]any{"booking": res.Booking}
	if res.Warn != nil {
		out["warning"] = res.Warn.Error()
	}
	return out
}

func (s *Server) handleReminder(w http.ResponseWriter, r *http.Request) {
	s.manualNotice(w, r, func(b *models.Booking) dispatch.Outcome {
		return s.deps.Dispatcher.Reminder(r.Context(), b)
	})
}

func (s *Server) handlePaymentNotice(w http.ResponseWriter, r *http.Request) {
	s.manualNotice(w, r, func(b *models.Booking) dispatch.Outcome {
		return s.deps.Dispatcher.PaymentNotice(r.Context(), b, s.deps.Currency)
	})
}

func (s *Server) manualNotice(w http.ResponseWriter, r *http.Request, send func(*models.Booking) dispatch.Outcome) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad booking id", 400)
		return
	}
	b, err := s.deps.Store.GetBooking(r.Context(), s.tenantID(r), id)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	out := send(b)
	resp := map[string]any{"sent": true}
	if warn := out.Warn(); warn != nil {
		resp["sent"] = false
		resp["warning"] = warn.Error()
	}
	writeJSON(w, 200, resp)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListDrivers(r.Context(), s.tenantID(r))
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad driver id", 400)
		return
	}
	var req struct {
		Status models.DriverStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.deps.Lifecycle.SetDriverPresence(r.Context(), s.tenantID(r), id, req.Status); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	if req.Status == models.DriverOnline {
		observability.DriversOnline.Inc()
	} else {
		observability.DriversOnline.Dec()
		s.deps.Throttle.Forget(s.tenantID(r), id)
	}
	w.WriteHeader(204)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.deps.Store.ListNotifications(r.Context(), s.tenantID(r), limit)
	if err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, 200, list)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "bad notification id", 400)
		return
	}
	if err := s.deps.Store.MarkNotificationRead(r.Context(), s.tenantID(r), id); err != nil {
		http.Error(w, err.Error(), statusForError(err))
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		http.Error(w, "routing not configured", 503)
		return
	}
	var req struct {
		Coords []models.Coord `json:"coords"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if len(req.Coords) < 2 {
		http.Error(w, "need at least two coordinates", 400)
		return
	}
	line, err := s.deps.Router.Route(r.Context(), req.Coords)
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, 200, map[string]any{"polyline": line})
}

// handleDriverLocation ingests a driver location push. Pushes faster than
// the configured interval are coalesced; the latest pending position is
// flushed by RunLocationFlusher.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DriverID int64   `json:"driver_id"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	c := models.Coord{Lat: req.Lat, Lon: req.Lon}
	if !c.Usable() {
		http.Error(w, "unusable coordinates", 400)
		return
	}
	tenantID := s.tenantID(r)
	if write := s.deps.Throttle.Offer(tenantID, req.DriverID, c, time.Now()); write != nil {
		if err := s.writeLocation(r.Context(), tenantID, req.DriverID, *write); err != nil {
			http.Error(w, err.Error(), statusForError(err))
			return
		}
	}
	w.WriteHeader(204)
}

func (s *Server) writeLocation(ctx context.Context, tenantID, driverID int64, c models.Coord) error {
	d, err := s.deps.Store.GetDriver(ctx, tenantID, driverID)
	if err != nil {
		return err
	}
	d.Loc = &c
	d.Updated = time.Now()
	if err := s.deps.Store.UpdateDriver(ctx, d); err != nil {
		return err
	}
	s.deps.Locations.Upsert(*d)
	e := feed.Event{Op: feed.OpUpdate, Topic: feed.TopicDrivers, TenantID: tenantID, Key: driverID, Driver: d}
	if err := s.deps.Publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("feed publish failed", "topic", e.Topic, "key", e.Key, "error", err)
		return nil
	}
	observability.FeedEventsPublished.WithLabelValues(e.Topic).Inc()
	return nil
}

// RunLocationFlusher periodically drains coalesced location updates. It
// returns when ctx is cancelled.
func (s *Server) RunLocationFlusher(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range s.deps.Throttle.FlushDue(now) {
				if err := s.writeLocation(ctx, p.TenantID, p.DriverID, p.Loc); err != nil {
					s.logger.Warn("location flush failed", "driver_id", p.DriverID, "error", err)
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	filter := feed.Filter{TenantID: s.tenantID(r)}
	if q := r.URL.Query().Get("key"); q != "" {
		if k, err := strconv.ParseInt(q, 10, 64); err == nil {
			filter.Key = k
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	// the connection outlives the handler once hijacked
	if _, err := s.deps.Hub.Attach(context.Background(), conn, topic, filter); err != nil {
		s.logger.Warn("ws attach failed", "topic", topic, "error", err)
		conn.Close()
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
