// Package httpapi is the HTTP surface of the dispatch service: the ride API
// for staff and drivers, both marketplace adapters, Booking.com admin
// endpoints and the ops endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/apperr"
	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/bookingcom"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/etg"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// ETGCredentials are the static credentials Marketplace-A presents, either
// as basic auth or as an X-API-Key header.
type ETGCredentials struct {
	Username string
	Password string
	APIKey   string
}

type Deps struct {
	DB      *storage.DB
	Engine  *lifecycle.Engine
	ETG     *etg.Service
	Booking *bookingcom.Service
	Auth    *auth.Issuer
	WS      *dispatch.WSRegistry
	ETGAuth ETGCredentials
	Logger  *slog.Logger
}

type Server struct {
	db      *storage.DB
	engine  *lifecycle.Engine
	etg     *etg.Service
	booking *bookingcom.Service
	auth    *auth.Issuer
	ws      *dispatch.WSRegistry
	etgAuth ETGCredentials
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		db:      d.DB,
		engine:  d.Engine,
		etg:     d.ETG,
		booking: d.Booking,
		auth:    d.Auth,
		ws:      d.WS,
		etgAuth: d.ETGAuth,
		logger:  logging.Component(d.Logger, "http"),
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/rides", s.handleListRides).Methods(http.MethodGet)
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleUpdateRide).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}/assign", s.handleAssign).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}/accept", s.driverAction(s.engine.Accept)).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}/start", s.driverAction(s.engine.Start)).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}/complete", s.driverAction(s.engine.Complete)).Methods(http.MethodPut)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPut)
	api.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPut)

	admin := api.PathPrefix("/admin/booking-com").Subrouter()
	admin.Use(s.requireRole(models.RoleAdmin))
	admin.HandleFunc("/config", s.handleBookingConfig).Methods(http.MethodGet)
	admin.HandleFunc("/config", s.handleBookingConfigUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/test", s.handleBookingTest).Methods(http.MethodPost)
	admin.HandleFunc("/sync", s.handleBookingSync).Methods(http.MethodPost)
	admin.HandleFunc("/rides/{id}/accept", s.handleBookingAccept).Methods(http.MethodPut)
	admin.HandleFunc("/rides/{id}/reject", s.handleBookingReject).Methods(http.MethodPut)

	etgAPI := s.mux.PathPrefix("/etg").Subrouter()
	etgAPI.Use(s.requireETG)
	etgAPI.HandleFunc("/search", s.handleETGSearch).Methods(http.MethodPost)
	etgAPI.HandleFunc("/book", s.handleETGBook).Methods(http.MethodPost)
	etgAPI.HandleFunc("/status", s.handleETGStatus).Methods(http.MethodPost)
	etgAPI.HandleFunc("/cancel", s.handleETGCancel).Methods(http.MethodPost)

	hooks := s.mux.PathPrefix("/webhook").Subrouter()
	hooks.Use(s.requireWebhookSecret)
	hooks.HandleFunc("/booking", s.handleDirectBooking).Methods(http.MethodPost)
	hooks.HandleFunc("/booking-com/search", s.handleBookingQuote).Methods(http.MethodPost)
	hooks.HandleFunc("/booking-com/booking", s.handleBookingNew).Methods(http.MethodPost)
	hooks.HandleFunc("/booking-com/booking/{ref}", s.handleBookingUpdate).Methods(http.MethodPatch)
	hooks.HandleFunc("/booking-com/incident", s.handleBookingIncident).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const wsPongWait = 60 * time.Second

// handleWS attaches a notification stream for user_id. Browsers cannot set
// headers on a websocket handshake, so the token may also come as ?token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	p, err := s.auth.Parse(token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if p.UserID != userID {
		s.writeError(w, r, apperr.Forbidden("token does not belong to user %s", userID))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}
	session := s.ws.Add(userID, conn)
	defer func() {
		s.ws.Remove(userID, session)
		session.Close()
	}()

	// Clients only listen; reading keeps pings answered and notices closes.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
