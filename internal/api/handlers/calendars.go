package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/stay-ledger/backend/internal/api/middleware"
	"github.com/stay-ledger/backend/internal/calendar"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// FeedScheduler keeps feed sync jobs in step with API edits.
type FeedScheduler interface {
	ScheduleFeed(feed models.Feed)
	UnscheduleFeed(feedID string)
	TriggerSync(ctx context.Context, feedID string) (*models.SyncResult, error)
}

// FeedRequest is the body of feed create and update calls.
type FeedRequest struct {
	Name            string `json:"name" validate:"required,max=100"`
	URL             string `json:"url" validate:"required,url"`
	SyncIntervalMin int    `json:"syncIntervalMin" validate:"omitempty,min=5,max=1440"`
	Enabled         *bool  `json:"enabled"`
}

func (req FeedRequest) apply(feed *models.Feed) {
	feed.Name = req.Name
	feed.URL = req.URL
	feed.SyncIntervalMin = req.SyncIntervalMin
	if feed.SyncIntervalMin == 0 {
		feed.SyncIntervalMin = 15
	}
	feed.Enabled = req.Enabled == nil || *req.Enabled
}

// CalendarResponse is the merged feed snapshot.
type CalendarResponse struct {
	Events      []models.ExternalEvent `json:"events"`
	LastSync    *time.Time             `json:"lastSync"`
	TotalEvents int                    `json:"totalEvents"`
}

// GetCalendar returns every stored feed event.
func GetCalendar(events *storage.ExternalEventRepository, feeds *storage.FeedRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		list, err := events.ListAll(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []models.ExternalEvent{}
		}
		lastSync, err := feeds.LatestSync(ctx)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, CalendarResponse{Events: list, LastSync: lastSync, TotalEvents: len(list)})
	}
}

// ExportCalendar serves local stays as an iCal feed for the channel to import.
func ExportCalendar(svc *reservation.Service, propertyID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stays, err := svc.Exportable(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		if err := calendar.WriteICS(w, propertyID, stays, svc.Now()); err != nil {
			writeServiceError(w, r, err)
		}
	}
}

// ListFeeds returns all feed subscriptions.
func ListFeeds(feeds *storage.FeedRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := feeds.List(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []models.Feed{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateFeed adds a new feed subscription and schedules it.
func CreateFeed(feeds *storage.FeedRepository, scheduler FeedScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedRequest
		if !decodeValid(w, r, &req) {
			return
		}

		feed := &models.Feed{}
		req.apply(feed)
		if err := feeds.Create(r.Context(), feed); err != nil {
			writeServiceError(w, r, err)
			return
		}

		if scheduler != nil {
			scheduler.ScheduleFeed(*feed)
		}
		writeJSON(w, http.StatusCreated, feed)
	}
}

// GetFeed returns a single feed by ID.
func GetFeed(feeds *storage.FeedRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, err := loadFeed(r, feeds)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// UpdateFeed replaces the editable fields of a feed and reschedules it.
func UpdateFeed(feeds *storage.FeedRepository, scheduler FeedScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedRequest
		if !decodeValid(w, r, &req) {
			return
		}

		feed, err := loadFeed(r, feeds)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		req.apply(feed)
		if err := feeds.Update(r.Context(), feed); err != nil {
			writeServiceError(w, r, err)
			return
		}

		if scheduler != nil {
			scheduler.ScheduleFeed(*feed)
		}
		writeJSON(w, http.StatusOK, feed)
	}
}

// DeleteFeed removes a feed along with its events.
func DeleteFeed(feeds *storage.FeedRepository, scheduler FeedScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := feeds.Delete(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		if scheduler != nil {
			scheduler.UnscheduleFeed(id)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncFeed runs a sync of one feed now. A sync already running for the feed
// is reported with 202 rather than started twice.
func SyncFeed(scheduler FeedScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if scheduler == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, middleware.ErrInternalError, "Calendar sync is not running")
			return
		}

		result, err := scheduler.TriggerSync(r.Context(), id)
		switch {
		case errors.Is(err, calendar.ErrSyncInProgress):
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "in_progress", "feedId": id})
		case err != nil:
			writeServiceError(w, r, err)
		default:
			writeJSON(w, http.StatusOK, result)
		}
	}
}

func loadFeed(r *http.Request, feeds *storage.FeedRepository) (*models.Feed, error) {
	id := mux.Vars(r)["id"]
	feed, err := feeds.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, errors.Wrapf(calendar.ErrFeedNotFound, "feed %s", id)
	}
	return feed, nil
}
