package calendar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stay-ledger/backend/internal/obs"
	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
	"github.com/stay-ledger/backend/internal/storage/storagetest"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSyncer) SyncFeed(ctx context.Context, feedID string) (*models.SyncResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, feedID)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.SyncResult{FeedID: feedID}, nil
}

func (f *fakeSyncer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestSchedulerLifecycle(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	feeds := storage.NewFeedRepository(db)

	on := &models.Feed{Name: "on", URL: "https://example.com/on.ics", SyncIntervalMin: 30, Enabled: true}
	off := &models.Feed{Name: "off", URL: "https://example.com/off.ics", SyncIntervalMin: 30, Enabled: false}
	require.NoError(t, feeds.Create(ctx, on))
	require.NoError(t, feeds.Create(ctx, off))

	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, feeds, 15*time.Minute, obs.Discard())
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, []string{on.ID}, s.ScheduledFeeds())
	assert.Eventually(t, func() bool {
		return len(syncer.called()) == 1
	}, time.Second, 10*time.Millisecond, "startup sync")
	next := s.NextRun(on.ID)
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *next, time.Minute)
	assert.Nil(t, s.NextRun(off.ID))

	result, err := s.TriggerSync(ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, off.ID, result.FeedID)

	on.Enabled = false
	s.ScheduleFeed(*on)
	assert.Empty(t, s.ScheduledFeeds())

	s.Stop()
	assert.Equal(t, []string{on.ID, off.ID}, syncer.called())

	_, err = s.TriggerSync(ctx, on.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshKeepsNextRun(t *testing.T) {
	ctx := context.Background()
	feeds := storage.NewFeedRepository(storagetest.NewDB(t))

	feed := &models.Feed{Name: "on", URL: "https://example.com/on.ics", SyncIntervalMin: 15, Enabled: true}
	require.NoError(t, feeds.Create(ctx, feed))

	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, feeds, 15*time.Minute, obs.Discard())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	var before *time.Time
	require.Eventually(t, func() bool {
		before = s.NextRun(feed.ID)
		return before != nil
	}, time.Second, 10*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)
	s.refreshSchedules(ctx)

	after := s.NextRun(feed.ID)
	require.NotNil(t, after)
	assert.True(t, before.Equal(*after), "refresh moved next run from %s to %s", before, after)

	feed.SyncIntervalMin = 60
	require.NoError(t, feeds.Update(ctx, feed))
	s.refreshSchedules(ctx)

	require.Eventually(t, func() bool {
		next := s.NextRun(feed.ID)
		return next != nil && next.After(before.Add(30*time.Minute))
	}, time.Second, 10*time.Millisecond, "changed interval reschedules")
}

func TestIntervalSpec(t *testing.T) {
	s := NewScheduler(&fakeSyncer{}, nil, 10*time.Minute, obs.Discard())
	assert.Equal(t, "@every 10m0s", s.intervalSpec(0))
	assert.Equal(t, "@every 1h0m0s", s.intervalSpec(60))
	assert.Equal(t, "@every 15m0s", minutesToCronSpec(-1))
}
