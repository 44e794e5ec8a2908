package calendar

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/pkg/clock"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// maxFeedSize bounds how much of a feed response is read.
const maxFeedSize = 10 << 20

var (
	// ErrSyncInProgress is returned when a sync of the same feed is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrFeedNotFound is returned for unknown feed ids.
	ErrFeedNotFound = errors.New("feed not found")
)

// FailureKind separates transient fetch problems from unusable payloads.
type FailureKind string

const (
	FailureSoft FailureKind = "soft"
	FailureHard FailureKind = "hard"
)

// SyncFailure is recorded on the feed when a sync does not replace its
// snapshot. The previous snapshot stays in place.
type SyncFailure struct {
	FeedID string
	Kind   FailureKind
	Reason string
	At     time.Time
	cause  error
}

func (f *SyncFailure) Error() string {
	return fmt.Sprintf("%s sync failure for feed %s: %s", f.Kind, f.FeedID, f.Reason)
}

func (f *SyncFailure) Unwrap() error { return f.cause }

// Notifier receives sync outcomes. Implementations must not block.
type Notifier interface {
	SyncCompleted(ctx context.Context, result *models.SyncResult)
	SyncFailed(ctx context.Context, feed *models.Feed, kind, reason string)
}

// SyncOptions configures a SyncService.
type SyncOptions struct {
	Location     *time.Location
	FetchTimeout time.Duration
	HTTPClient   *http.Client
	Clock        clock.Clock
	Notifier     Notifier
	Logger       *slog.Logger
}

// SyncService fetches feeds and replaces their stored event snapshots.
type SyncService struct {
	db           *storage.DB
	feeds        *storage.FeedRepository
	events       *storage.ExternalEventRepository
	reservations *storage.ReservationRepository
	parser       *Parser
	client       *http.Client
	clock        clock.Clock
	notifier     Notifier
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSyncService creates a new calendar sync service.
func NewSyncService(
	db *storage.DB,
	feeds *storage.FeedRepository,
	events *storage.ExternalEventRepository,
	reservations *storage.ReservationRepository,
	opts SyncOptions,
) *SyncService {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.FetchTimeout}
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &SyncService{
		db:           db,
		feeds:        feeds,
		events:       events,
		reservations: reservations,
		parser:       NewParser(opts.Location),
		client:       opts.HTTPClient,
		clock:        opts.Clock,
		notifier:     opts.Notifier,
		logger:       opts.Logger.With("component", "calendar_sync"),
		inFlight:     make(map[string]struct{}),
	}
}

// SyncFeed fetches one feed and atomically replaces its events. Failures are
// recorded on the feed and returned as *SyncFailure; the stored snapshot and
// last sync time are left untouched.
func (s *SyncService) SyncFeed(ctx context.Context, feedID string) (*models.SyncResult, error) {
	if !s.acquire(feedID) {
		return nil, ErrSyncInProgress
	}
	defer s.release(feedID)

	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, errors.Wrapf(ErrFeedNotFound, "feed %s", feedID)
	}

	if err := s.feeds.MarkSyncing(ctx, feed.ID); err != nil {
		s.logger.Warn("marking feed syncing", "feed_id", feed.ID, "error", err)
	}

	body, err := s.fetch(ctx, feed.URL)
	if err != nil {
		return nil, s.fail(ctx, feed, FailureSoft, err)
	}

	parsed, err := s.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, s.fail(ctx, feed, FailureHard, err)
	}
	for _, perr := range parsed.Errors {
		s.logger.Warn("skipping malformed event", "feed_id", feed.ID, "index", perr.Index, "uid", perr.UID, "reason", perr.Reason)
	}

	if len(parsed.Events) == 0 && feed.EventCount > 0 {
		return nil, s.fail(ctx, feed, FailureSoft,
			errors.Newf("feed returned no events, previous snapshot had %d", feed.EventCount))
	}

	syncedAt := s.clock.Now().UTC()
	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := s.events.Replace(ctx, tx, feed.ID, parsed.Events); err != nil {
			return err
		}
		return s.feeds.MarkSynced(ctx, tx, feed.ID, syncedAt, len(parsed.Events))
	})
	if err != nil {
		return nil, s.fail(ctx, feed, FailureSoft, errors.Wrap(err, "replacing snapshot"))
	}

	result := &models.SyncResult{
		FeedID:     feed.ID,
		FeedName:   feed.Name,
		EventCount: len(parsed.Events),
		Skipped:    len(parsed.Errors),
		SyncedAt:   syncedAt,
	}
	result.Overlaps, err = s.findOverlaps(ctx, parsed.Events)
	if err != nil {
		s.logger.Error("checking feed against reservations", "feed_id", feed.ID, "error", err)
	}
	for _, o := range result.Overlaps {
		s.logger.Warn("feed event overlaps reservation",
			"feed_id", feed.ID,
			"event_uid", o.Event.Ref,
			"reservation_id", o.Reservation.Ref,
			"window", o.Window.String(),
		)
	}

	s.logger.Info("calendar sync completed",
		"feed_id", feed.ID,
		"events", result.EventCount,
		"skipped", result.Skipped,
		"overlaps", len(result.Overlaps),
	)
	if s.notifier != nil {
		s.notifier.SyncCompleted(ctx, result)
	}
	return result, nil
}

// SyncAllEnabled syncs every enabled feed in turn. Feeds already syncing are
// skipped; other failures are recorded per feed and do not stop the loop.
func (s *SyncService) SyncAllEnabled(ctx context.Context) ([]models.SyncResult, error) {
	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	var results []models.SyncResult
	for _, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		result, err := s.SyncFeed(ctx, feed.ID)
		if err != nil {
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// InFlight reports whether feedID is being synced right now.
func (s *SyncService) InFlight(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[feedID]
	return ok
}

func (s *SyncService) acquire(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[feedID]; busy {
		return false
	}
	s.inFlight[feedID] = struct{}{}
	return true
}

func (s *SyncService) release(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, feedID)
}

func (s *SyncService) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building feed request")
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching feed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, errors.Wrap(err, "reading feed body")
	}
	return body, nil
}

// fail records a sync failure on the feed. The write uses a context detached
// from ctx so a cancelled sync still leaves a trace.
func (s *SyncService) fail(ctx context.Context, feed *models.Feed, kind FailureKind, cause error) error {
	failure := &SyncFailure{
		FeedID: feed.ID,
		Kind:   kind,
		Reason: cause.Error(),
		At:     s.clock.Now().UTC(),
		cause:  cause,
	}

	s.logger.Warn("calendar sync failed",
		"feed_id", feed.ID,
		"feed_name", feed.Name,
		"kind", kind,
		"error", cause,
	)
	if err := s.feeds.MarkFailed(context.WithoutCancel(ctx), feed.ID, failure.At, failure.Reason); err != nil {
		s.logger.Error("recording sync failure", "feed_id", feed.ID, "error", err)
	}
	if s.notifier != nil {
		s.notifier.SyncFailed(ctx, feed, string(kind), failure.Reason)
	}
	return failure
}

// findOverlaps pairs every new event with the local stays it intersects.
func (s *SyncService) findOverlaps(ctx context.Context, events []models.ExternalEvent) ([]models.Overlap, error) {
	if len(events) == 0 {
		return nil, nil
	}

	span := events[0].Range()
	for _, ev := range events[1:] {
		if ev.Start.Before(span.Start) {
			span.Start = ev.Start
		}
		if ev.End.After(span.End) {
			span.End = ev.End
		}
	}

	stays, err := s.reservations.ListOverlapping(ctx, nil, span)
	if err != nil {
		return nil, err
	}
	if len(stays) == 0 {
		return nil, nil
	}
	blockers := models.ReservationBlockers(stays)

	var overlaps []models.Overlap
	for i := range events {
		for _, c := range reservation.Detect(events[i].Range(), blockers, "") {
			overlaps = append(overlaps, models.Overlap{
				Reservation: models.Block{Kind: c.Kind, Ref: c.Ref, Label: c.Label, Range: c.Range},
				Event:       events[i].Block(),
				Window:      c.Overlap,
			})
		}
	}
	return overlaps, nil
}
