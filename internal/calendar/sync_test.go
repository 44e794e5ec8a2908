package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/obs"
	"github.com/stay-ledger/backend/internal/pkg/clock"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/storage/storagetest"
)

// feedServer serves whatever body and status are set last.
type feedServer struct {
	*httptest.Server

	mu     sync.Mutex
	status int
	body   string
	hits   atomic.Int32
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{status: http.StatusOK}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		fs.mu.Lock()
		status, body := fs.status, fs.body
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "text/calendar")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) serve(status int, body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.status, fs.body = status, body
}

type recordingSyncNotifier struct {
	mu        sync.Mutex
	completed []*models.SyncResult
	failed    []string
}

func (n *recordingSyncNotifier) SyncCompleted(_ context.Context, result *models.SyncResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, result)
}

func (n *recordingSyncNotifier) SyncFailed(_ context.Context, _ *models.Feed, kind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, kind)
}

type syncFixture struct {
	svc          *SyncService
	feeds        *storage.FeedRepository
	events       *storage.ExternalEventRepository
	reservations *storage.ReservationRepository
	clock        *clock.MockClock
	notifier     *recordingSyncNotifier
	server       *feedServer
	feed         *models.Feed
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	db := storagetest.NewDB(t)
	f := &syncFixture{
		feeds:        storage.NewFeedRepository(db),
		events:       storage.NewExternalEventRepository(db),
		reservations: storage.NewReservationRepository(db),
		clock:        clock.NewMockClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)),
		notifier:     &recordingSyncNotifier{},
		server:       newFeedServer(t),
	}
	f.svc = NewSyncService(db, f.feeds, f.events, f.reservations, SyncOptions{
		Location:     time.UTC,
		FetchTimeout: 5 * time.Second,
		Clock:        f.clock,
		Notifier:     f.notifier,
		Logger:       obs.Discard(),
	})

	f.feed = &models.Feed{Name: "Airbnb", URL: f.server.URL + "/calendar.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, f.feeds.Create(context.Background(), f.feed))
	return f
}

func (f *syncFixture) reload(t *testing.T) *models.Feed {
	t.Helper()
	feed, err := f.feeds.GetByID(context.Background(), f.feed.ID)
	require.NoError(t, err)
	require.NotNil(t, feed)
	return feed
}

func (f *syncFixture) storedUIDs(t *testing.T) []string {
	t.Helper()
	events, err := f.events.ListByFeed(context.Background(), f.feed.ID)
	require.NoError(t, err)
	uids := make([]string, 0, len(events))
	for _, e := range events {
		uids = append(uids, e.UID)
	}
	return uids
}

var twoEventFeed = ics(
	vevent("UID:a", "DTSTART;VALUE=DATE:20240610", "DTEND;VALUE=DATE:20240613"),
	vevent("UID:bad", "DTSTART;VALUE=DATE:nope"),
	vevent("UID:b", "DTSTART;VALUE=DATE:20240620", "DTEND;VALUE=DATE:20240622"),
)

func TestSyncFeedReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.server.serve(http.StatusOK, twoEventFeed)

	result, err := f.svc.SyncFeed(ctx, f.feed.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EventCount)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Overlaps)
	assert.Equal(t, []string{"a", "b"}, f.storedUIDs(t))

	feed := f.reload(t)
	assert.Equal(t, models.SyncStatusSuccess, feed.SyncStatus)
	assert.Equal(t, 2, feed.EventCount)
	require.NotNil(t, feed.LastSyncAt)
	assert.True(t, feed.LastSyncAt.Equal(f.clock.Now()))
	assert.Nil(t, feed.SyncError)

	// A later snapshot drops events that disappeared from the feed.
	f.server.serve(http.StatusOK, ics(
		vevent("UID:c", "DTSTART;VALUE=DATE:20240701", "DTEND;VALUE=DATE:20240703"),
	))
	_, err = f.svc.SyncFeed(ctx, f.feed.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, f.storedUIDs(t))
	assert.Len(t, f.notifier.completed, 2)
}

func TestSyncFailuresKeepPreviousSnapshot(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   FailureKind
	}{
		{"server error", http.StatusBadGateway, "upstream down", FailureSoft},
		{"not a calendar", http.StatusOK, "<html>login required</html>", FailureHard},
		{"every event malformed", http.StatusOK, ics(vevent("UID:x", "DTSTART:garbage")), FailureHard},
		{"empty after non-empty", http.StatusOK, ics(), FailureSoft},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newSyncFixture(t)
			f.server.serve(http.StatusOK, twoEventFeed)
			_, err := f.svc.SyncFeed(ctx, f.feed.ID)
			require.NoError(t, err)
			before := f.reload(t)

			f.clock.Add(time.Hour)
			f.server.serve(tc.status, tc.body)
			_, err = f.svc.SyncFeed(ctx, f.feed.ID)

			var failure *SyncFailure
			require.True(t, errors.As(err, &failure), "got %v", err)
			assert.Equal(t, tc.kind, failure.Kind)
			assert.Equal(t, f.feed.ID, failure.FeedID)

			assert.Equal(t, []string{"a", "b"}, f.storedUIDs(t))
			after := f.reload(t)
			assert.Equal(t, models.SyncStatusError, after.SyncStatus)
			require.NotNil(t, after.SyncError)
			assert.NotEmpty(t, *after.SyncError)
			assert.Equal(t, 2, after.EventCount)
			assert.True(t, after.LastSyncAt.Equal(*before.LastSyncAt))
			require.NotNil(t, after.LastErrorAt)
			assert.True(t, after.LastErrorAt.Equal(f.clock.Now()))
			assert.Equal(t, []string{string(tc.kind)}, f.notifier.failed)
		})
	}
}

func TestSyncNetworkFailure(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.server.serve(http.StatusOK, twoEventFeed)
	_, err := f.svc.SyncFeed(ctx, f.feed.ID)
	require.NoError(t, err)

	f.server.Close()
	_, err = f.svc.SyncFeed(ctx, f.feed.ID)

	var failure *SyncFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, FailureSoft, failure.Kind)
	assert.Equal(t, []string{"a", "b"}, f.storedUIDs(t))
}

func TestSyncEmptyFeedOnFirstSync(t *testing.T) {
	f := newSyncFixture(t)
	f.server.serve(http.StatusOK, ics())

	result, err := f.svc.SyncFeed(context.Background(), f.feed.ID)
	require.NoError(t, err)
	assert.Zero(t, result.EventCount)
	assert.Equal(t, models.SyncStatusSuccess, f.reload(t).SyncStatus)
}

func TestSyncReportsOverlapsWithReservations(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	stay := &models.Reservation{
		GuestRef:        "g1",
		GuestName:       "Ada",
		CheckInDate:     models.MustParseDate("2024-06-12"),
		CheckOutDate:    models.MustParseDate("2024-06-15"),
		Status:          models.StatusUpcoming,
		Source:          models.SourceDirect,
		NumberOfGuests:  1,
		ReservationCode: "RSV-OVERLAP1",
	}
	require.NoError(t, f.reservations.Create(ctx, nil, stay))

	f.server.serve(http.StatusOK, twoEventFeed)
	result, err := f.svc.SyncFeed(ctx, f.feed.ID)
	require.NoError(t, err)

	require.Len(t, result.Overlaps, 1)
	o := result.Overlaps[0]
	assert.Equal(t, stay.ID, o.Reservation.Ref)
	assert.Equal(t, "a", o.Event.Ref)
	assert.Equal(t, "2024-06-12", o.Window.Start.String())
	assert.Equal(t, "2024-06-13", o.Window.End.String())

	// The overlapping event is stored regardless.
	assert.Equal(t, []string{"a", "b"}, f.storedUIDs(t))
}

func TestSyncCoalescesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	feeds := storage.NewFeedRepository(db)

	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte(twoEventFeed))
	}))
	defer server.Close()

	svc := NewSyncService(db, feeds, storage.NewExternalEventRepository(db), storage.NewReservationRepository(db), SyncOptions{
		Logger: obs.Discard(),
	})
	feed := &models.Feed{Name: "slow", URL: server.URL, SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, feeds.Create(ctx, feed))

	done := make(chan error, 1)
	go func() {
		_, err := svc.SyncFeed(ctx, feed.ID)
		done <- err
	}()

	<-started
	assert.True(t, svc.InFlight(feed.ID))
	_, err := svc.SyncFeed(ctx, feed.ID)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, svc.InFlight(feed.ID))
}

func TestSyncUnknownFeed(t *testing.T) {
	f := newSyncFixture(t)
	_, err := f.svc.SyncFeed(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrFeedNotFound)
}

func TestSyncAllEnabledSkipsDisabledFeeds(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)
	f.server.serve(http.StatusOK, twoEventFeed)

	disabled := &models.Feed{Name: "off", URL: f.server.URL + "/off.ics", SyncIntervalMin: 15, Enabled: false}
	require.NoError(t, f.feeds.Create(ctx, disabled))

	results, err := f.svc.SyncAllEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.feed.ID, results[0].FeedID)
	assert.EqualValues(t, 1, f.server.hits.Load())
}
