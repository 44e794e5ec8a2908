package calendar

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/stay-ledger/backend/internal/storage"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// Syncer is the part of SyncService the scheduler drives.
type Syncer interface {
	SyncFeed(ctx context.Context, feedID string) (*models.SyncResult, error)
}

// Scheduler manages periodic feed sync jobs.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	feeds  *storage.FeedRepository
	logger *slog.Logger

	// Track jobs per feed
	jobs   map[string]feedJob
	jobsMu sync.RWMutex

	// Used when a feed has no interval of its own
	defaultInterval time.Duration

	// Cancelled on Stop so in-flight fetches abort.
	ctx    context.Context
	cancel context.CancelFunc

	// Startup syncs run outside cron.
	initial sync.WaitGroup
}

// feedJob remembers the spec an entry was added with; re-adding an @every
// entry restarts its countdown.
type feedJob struct {
	id   cron.EntryID
	spec string
}

// NewScheduler creates a new feed sync scheduler.
func NewScheduler(syncer Syncer, feeds *storage.FeedRepository, defaultInterval time.Duration, logger *slog.Logger) *Scheduler {
	if defaultInterval < time.Minute {
		defaultInterval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:            cron.New(cron.WithSeconds()),
		syncer:          syncer,
		feeds:           feeds,
		logger:          logger.With("component", "calendar_scheduler"),
		jobs:            make(map[string]feedJob),
		defaultInterval: defaultInterval,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start schedules every enabled feed, syncs each once right away and begins
// the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		return errors.Wrap(err, "loading feeds")
	}

	for _, feed := range feeds {
		s.ScheduleFeed(feed)
		s.initial.Add(1)
		go func(id, name string) {
			defer s.initial.Done()
			s.syncFeed(id, name)
		}(feed.ID, feed.Name)
	}

	// Pick up feeds added or edited through the API.
	if _, err := s.cron.AddFunc("@every 5m", func() {
		s.refreshSchedules(s.ctx)
	}); err != nil {
		return errors.Wrap(err, "scheduling refresh job")
	}

	s.cron.Start()
	s.logger.Info("calendar scheduler started", "feeds", len(feeds))
	return nil
}

// Stop cancels in-flight syncs and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.initial.Wait()
	s.logger.Info("calendar scheduler stopped")
}

// ScheduleFeed adds or updates a feed's sync schedule. A feed whose interval
// is unchanged keeps its entry and next run time.
func (s *Scheduler) ScheduleFeed(feed models.Feed) {
	if !feed.Enabled {
		s.UnscheduleFeed(feed.ID)
		return
	}

	spec := s.intervalSpec(feed.SyncIntervalMin)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if existing, exists := s.jobs[feed.ID]; exists {
		if existing.spec == spec {
			return
		}
		s.cron.Remove(existing.id)
		delete(s.jobs, feed.ID)
	}

	id, name := feed.ID, feed.Name
	entryID, err := s.cron.AddFunc(spec, func() {
		s.syncFeed(id, name)
	})
	if err != nil {
		s.logger.Error("scheduling feed", "feed_id", feed.ID, "error", err)
		return
	}

	s.jobs[feed.ID] = feedJob{id: entryID, spec: spec}
	s.logger.Debug("feed scheduled", "feed_id", feed.ID, "feed_name", feed.Name, "spec", spec)
}

// UnscheduleFeed removes a feed from the sync schedule.
func (s *Scheduler) UnscheduleFeed(feedID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if job, exists := s.jobs[feedID]; exists {
		s.cron.Remove(job.id)
		delete(s.jobs, feedID)
		s.logger.Debug("feed unscheduled", "feed_id", feedID)
	}
}

// TriggerSync runs an immediate sync of a feed on behalf of a caller. It is
// cancelled by either ctx or Stop, and refused once the scheduler is stopped.
func (s *Scheduler) TriggerSync(ctx context.Context, feedID string) (*models.SyncResult, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "scheduler stopped")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.syncer.SyncFeed(ctx, feedID)
}

// syncFeed runs a scheduled sync. Failures are already recorded by the
// syncer, so they are only logged here.
func (s *Scheduler) syncFeed(feedID, feedName string) {
	if s.ctx.Err() != nil {
		return
	}
	_, err := s.syncer.SyncFeed(s.ctx, feedID)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Debug("sync already running, skipping tick", "feed_id", feedID)
	default:
		s.logger.Debug("scheduled sync did not complete", "feed_id", feedID, "feed_name", feedName, "error", err)
	}
}

// refreshSchedules reloads feed schedules from the database.
func (s *Scheduler) refreshSchedules(ctx context.Context) {
	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("refreshing feed schedules", "error", err)
		return
	}

	currentIDs := make(map[string]bool)
	for _, feed := range feeds {
		currentIDs[feed.ID] = true
		s.ScheduleFeed(feed)
	}

	// Remove jobs for feeds that no longer exist or are disabled
	s.jobsMu.Lock()
	for feedID, job := range s.jobs {
		if !currentIDs[feedID] {
			s.cron.Remove(job.id)
			delete(s.jobs, feedID)
			s.logger.Info("removed schedule for feed", "feed_id", feedID)
		}
	}
	s.jobsMu.Unlock()
}

func (s *Scheduler) intervalSpec(minutes int) string {
	if minutes <= 0 {
		return "@every " + s.defaultInterval.String()
	}
	return minutesToCronSpec(minutes)
}

// minutesToCronSpec converts minutes to a cron spec.
func minutesToCronSpec(minutes int) string {
	if minutes <= 0 {
		minutes = 15
	}
	duration := time.Duration(minutes) * time.Minute
	return "@every " + duration.String()
}

// ScheduledFeeds returns the ids of currently scheduled feeds.
func (s *Scheduler) ScheduledFeeds() []string {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// NextRun returns the next scheduled run time for a feed.
func (s *Scheduler) NextRun(feedID string) *time.Time {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	if job, exists := s.jobs[feedID]; exists {
		entry := s.cron.Entry(job.id)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}
