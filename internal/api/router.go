// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stay-ledger/backend/internal/api/handlers"
	"github.com/stay-ledger/backend/internal/api/middleware"
	"github.com/stay-ledger/backend/internal/availability"
	"github.com/stay-ledger/backend/internal/calendar"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/websocket"
)

// Dependencies are the services the routes are wired to. Scheduler and Hub
// may be nil.
type Dependencies struct {
	DB            *storage.DB
	Hub           *websocket.Hub
	Reservations  *reservation.Service
	ReservationDB *storage.ReservationRepository
	Feeds         *storage.FeedRepository
	Events        *storage.ExternalEventRepository
	Settings      *storage.SettingsRepository
	Availability  *availability.Aggregator
	Scheduler     *calendar.Scheduler
	PropertyID    string
	StaticDir     string
	Logger        *slog.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(deps.Logger.With("component", "http")))
	r.Use(middleware.ErrorRecovery(deps.Logger))

	var (
		feedScheduler handlers.FeedScheduler
		nextRunner    handlers.NextRunner
	)
	if deps.Scheduler != nil {
		feedScheduler = deps.Scheduler
		nextRunner = deps.Scheduler
	}

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(deps.DB)).Methods(http.MethodGet)
	api.HandleFunc("/status", handlers.Status(deps.ReservationDB, deps.Feeds, deps.Hub, nextRunner)).Methods(http.MethodGet)

	// WebSocket endpoint
	if deps.Hub != nil {
		api.HandleFunc("/ws", handlers.WebSocketUpgrade(deps.Hub, deps.Logger)).Methods(http.MethodGet)
	}

	// Reservation endpoints
	api.HandleFunc("/reservations", handlers.ListReservations(deps.Reservations)).Methods(http.MethodGet)
	api.HandleFunc("/reservations", handlers.CreateReservation(deps.Reservations)).Methods(http.MethodPost)
	api.HandleFunc("/reservations/sweep", handlers.SweepReservations(deps.Reservations)).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{id}", handlers.GetReservation(deps.Reservations)).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{id}", handlers.UpdateReservation(deps.Reservations)).Methods(http.MethodPut)
	api.HandleFunc("/reservations/{id}", handlers.DeleteReservation(deps.Reservations)).Methods(http.MethodDelete)

	// Calendar endpoints
	api.HandleFunc("/calendar", handlers.GetCalendar(deps.Events, deps.Feeds)).Methods(http.MethodGet)
	api.HandleFunc("/calendar.ics", handlers.ExportCalendar(deps.Reservations, deps.PropertyID)).Methods(http.MethodGet)
	api.HandleFunc("/feeds", handlers.ListFeeds(deps.Feeds)).Methods(http.MethodGet)
	api.HandleFunc("/feeds", handlers.CreateFeed(deps.Feeds, feedScheduler)).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id}", handlers.GetFeed(deps.Feeds)).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id}", handlers.UpdateFeed(deps.Feeds, feedScheduler)).Methods(http.MethodPut)
	api.HandleFunc("/feeds/{id}", handlers.DeleteFeed(deps.Feeds, feedScheduler)).Methods(http.MethodDelete)
	api.HandleFunc("/feeds/{id}/sync", handlers.SyncFeed(feedScheduler)).Methods(http.MethodPost)

	// Availability endpoints
	api.HandleFunc("/availability", handlers.GetAvailability(deps.Availability)).Methods(http.MethodGet)
	api.HandleFunc("/availability/check", handlers.CheckAvailability(deps.Availability)).Methods(http.MethodGet)

	// Settings endpoints
	api.HandleFunc("/settings", handlers.GetSettings(deps.Settings)).Methods(http.MethodGet)
	api.HandleFunc("/settings", handlers.UpdateSettings(deps.Settings)).Methods(http.MethodPut)

	// Serve static frontend files
	if deps.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}
