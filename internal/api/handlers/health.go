package handlers

import (
	"net/http"
	"time"

	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"dbConnected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, HealthResponse{Status: status, DBConnected: dbConnected})
	}
}

// FeedStatus summarises one feed for the status page.
type FeedStatus struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SyncStatus string     `json:"syncStatus"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	SyncError  *string    `json:"syncError,omitempty"`
	EventCount int        `json:"eventCount"`
	NextSyncAt *time.Time `json:"nextSyncAt,omitempty"`
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Reservations     map[models.ReservationStatus]int `json:"reservations"`
	Feeds            []FeedStatus                     `json:"feeds"`
	WebSocketClients int                              `json:"websocketClients"`
}

// NextRunner reports when a feed syncs next.
type NextRunner interface {
	NextRun(feedID string) *time.Time
}

// Status returns a handler that provides system status information.
func Status(reservations *storage.ReservationRepository, feeds *storage.FeedRepository, hub *websocket.Hub, schedule NextRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := reservations.CountByStatus(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		list, err := feeds.List(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		response := StatusResponse{Reservations: counts, Feeds: make([]FeedStatus, 0, len(list))}
		for _, f := range list {
			fs := FeedStatus{
				ID:         f.ID,
				Name:       f.Name,
				SyncStatus: f.SyncStatus,
				LastSyncAt: f.LastSyncAt,
				SyncError:  f.SyncError,
				EventCount: f.EventCount,
			}
			if schedule != nil {
				fs.NextSyncAt = schedule.NextRun(f.ID)
			}
			response.Feeds = append(response.Feeds, fs)
		}
		if hub != nil {
			response.WebSocketClients = hub.ClientCount()
		}

		writeJSON(w, http.StatusOK, response)
	}
}
