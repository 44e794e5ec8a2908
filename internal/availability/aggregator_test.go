package availability

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/calendar"
	"github.com/stay-ledger/backend/internal/obs"
	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/storage/storagetest"
)

type fixture struct {
	db           *storage.DB
	reservations *storage.ReservationRepository
	events       *storage.ExternalEventRepository
	feeds        *storage.FeedRepository
	agg          *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)
	f := &fixture{
		db:           db,
		reservations: storage.NewReservationRepository(db),
		events:       storage.NewExternalEventRepository(db),
		feeds:        storage.NewFeedRepository(db),
	}
	f.agg = NewAggregator(f.reservations, f.events, f.feeds, obs.Discard())
	return f
}

func d(s string) models.Date { return models.MustParseDate(s) }

func (f *fixture) stay(t *testing.T, code, in, out string, status models.ReservationStatus) *models.Reservation {
	t.Helper()
	res := &models.Reservation{
		GuestRef:        "guest-" + code,
		CheckInDate:     d(in),
		CheckOutDate:    d(out),
		Status:          status,
		Source:          models.SourceDirect,
		NumberOfGuests:  1,
		ReservationCode: code,
	}
	require.NoError(t, f.reservations.Create(context.Background(), nil, res))
	return res
}

func (f *fixture) feedEvents(t *testing.T, events ...models.ExternalEvent) *models.Feed {
	t.Helper()
	ctx := context.Background()
	feed := &models.Feed{Name: "channel", URL: "https://example.com/feed.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, f.feeds.Create(ctx, feed))
	require.NoError(t, f.db.Transaction(ctx, func(tx *sql.Tx) error {
		return f.events.Replace(ctx, tx, feed.ID, events)
	}))
	return feed
}

func days(dates []models.Date) []string {
	out := make([]string, 0, len(dates))
	for _, day := range dates {
		out = append(out, day.String())
	}
	return out
}

func TestBlockedDatesUnionsBothSources(t *testing.T) {
	f := newFixture(t)
	f.stay(t, "RSV-1", "2024-06-10", "2024-06-13", models.StatusUpcoming)
	f.stay(t, "RSV-2", "2024-06-14", "2024-06-18", models.StatusCancelled)
	f.feedEvents(t, models.ExternalEvent{UID: "ext-1", Start: d("2024-06-20"), End: d("2024-06-22"), Summary: "Reserved"})

	cal, err := f.agg.BlockedDates(context.Background(), d("2024-06-01"), d("2024-06-30"))
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-06-10", "2024-06-11", "2024-06-12", "2024-06-20", "2024-06-21"}, days(cal.Days))
	require.Len(t, cal.Intervals, 2)
	assert.Equal(t, models.BlockReservation, cal.Intervals[0].Kind)
	assert.Equal(t, models.BlockExternal, cal.Intervals[1].Kind)
	assert.Equal(t, "ext-1", cal.Intervals[1].Ref)
}

func TestBlockedDatesClipsAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	f.stay(t, "RSV-1", "2024-05-28", "2024-06-03", models.StatusCurrent)
	// The feed repeats a stay the channel already knows about.
	f.feedEvents(t,
		models.ExternalEvent{UID: "ext-1", Start: d("2024-06-02"), End: d("2024-06-04")},
		models.ExternalEvent{UID: "ext-2", Start: d("2024-06-29"), End: d("2024-07-05")},
	)

	cal, err := f.agg.BlockedDates(context.Background(), d("2024-06-01"), d("2024-07-01"))
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03", "2024-06-29", "2024-06-30"}, days(cal.Days))
	// Intervals are not clipped.
	require.Len(t, cal.Intervals, 3)
	assert.Equal(t, "2024-05-28", cal.Intervals[0].Range.Start.String())
	assert.Equal(t, "2024-07-05", cal.Intervals[2].Range.End.String())
}

func TestBlockedDatesRejectsBadRanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.BlockedDates(ctx, d("2024-06-10"), d("2024-06-10"))
	assert.ErrorIs(t, err, reservation.ErrValidation)

	_, err = f.agg.BlockedDates(ctx, d("2024-01-01"), d("2027-01-01"))
	assert.ErrorIs(t, err, reservation.ErrValidation)

	_, err = f.agg.BlockedDates(ctx, models.Date{}, d("2024-06-10"))
	assert.ErrorIs(t, err, reservation.ErrValidation)
}

func TestCheckAndIsAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.stay(t, "RSV-1", "2024-06-10", "2024-06-13", models.StatusUpcoming)
	f.feedEvents(t, models.ExternalEvent{UID: "ext-1", Start: d("2024-06-20"), End: d("2024-06-22")})

	ok, conflicts, err := f.agg.Check(ctx, models.DateRange{Start: d("2024-06-13"), End: d("2024-06-20")})
	require.NoError(t, err)
	assert.True(t, ok, "touching both neighbours is allowed")
	assert.Empty(t, conflicts)

	ok, conflicts, err = f.agg.Check(ctx, models.DateRange{Start: d("2024-06-12"), End: d("2024-06-21")})
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, conflicts, 2)
	assert.Equal(t, res.ID, conflicts[0].Ref)
	assert.Equal(t, "ext-1", conflicts[1].Ref)

	free, err := f.agg.IsAvailable(ctx, d("2024-06-13"))
	require.NoError(t, err)
	assert.True(t, free)

	free, err = f.agg.IsAvailable(ctx, d("2024-06-21"))
	require.NoError(t, err)
	assert.False(t, free)
}

func TestBlockedDatesStableAcrossFailedSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stay(t, "RSV-1", "2024-06-10", "2024-06-13", models.StatusUpcoming)

	var down atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:ext-1\r\n" +
			"DTSTART;VALUE=DATE:20240620\r\nDTEND;VALUE=DATE:20240622\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"))
	}))
	defer server.Close()

	feed := &models.Feed{Name: "channel", URL: server.URL, SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, f.feeds.Create(ctx, feed))
	syncer := calendar.NewSyncService(f.db, f.feeds, f.events, f.reservations, calendar.SyncOptions{
		Location: time.UTC,
		Logger:   obs.Discard(),
	})

	_, err := syncer.SyncFeed(ctx, feed.ID)
	require.NoError(t, err)
	before, err := f.agg.BlockedDates(ctx, d("2024-06-01"), d("2024-06-30"))
	require.NoError(t, err)
	require.NotNil(t, before.LastSync)

	down.Store(true)
	_, err = syncer.SyncFeed(ctx, feed.ID)
	require.Error(t, err)

	after, err := f.agg.BlockedDates(ctx, d("2024-06-01"), d("2024-06-30"))
	require.NoError(t, err)
	assert.Equal(t, days(before.Days), days(after.Days))
	assert.Equal(t, before.Intervals, after.Intervals)
	assert.True(t, before.LastSync.Equal(*after.LastSync))
	assert.Equal(t, []string{"2024-06-10", "2024-06-11", "2024-06-12", "2024-06-20", "2024-06-21"}, days(after.Days))
}
