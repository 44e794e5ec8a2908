package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

const feedColumns = `
	id, name, url, sync_interval_min, enabled, last_sync_at, last_error_at,
	sync_status, sync_error, event_count, created_at, updated_at`

// FeedRepository provides data access for external calendar feeds.
type FeedRepository struct {
	BaseRepository
}

// NewFeedRepository creates a new feed repository.
func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{BaseRepository: NewBaseRepository(db)}
}

// Create inserts a new feed.
func (r *FeedRepository) Create(ctx context.Context, feed *models.Feed) error {
	feed.ID = GenerateID()
	feed.CreatedAt = r.Now()
	feed.UpdatedAt = feed.CreatedAt
	feed.SyncStatus = models.SyncStatusPending

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO calendar_feeds (
			id, name, url, sync_interval_min, enabled, sync_status, event_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		feed.ID, feed.Name, feed.URL, feed.SyncIntervalMin, feed.Enabled,
		feed.SyncStatus, feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "inserting feed")
	}
	return nil
}

// UpsertByURL creates the feed or refreshes the name and interval of the
// existing feed with the same URL. feed is filled from the stored row.
func (r *FeedRepository) UpsertByURL(ctx context.Context, feed *models.Feed) error {
	existing, err := r.GetByURL(ctx, feed.URL)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.Create(ctx, feed)
	}

	existing.Name = feed.Name
	existing.SyncIntervalMin = feed.SyncIntervalMin
	existing.Enabled = true
	if err := r.Update(ctx, existing); err != nil {
		return err
	}
	*feed = *existing
	return nil
}

// GetByID retrieves a feed by its ID. It returns nil, nil when absent.
func (r *FeedRepository) GetByID(ctx context.Context, id string) (*models.Feed, error) {
	return r.getOne(ctx, "id", id)
}

// GetByURL retrieves a feed by its URL. It returns nil, nil when absent.
func (r *FeedRepository) GetByURL(ctx context.Context, url string) (*models.Feed, error) {
	return r.getOne(ctx, "url", url)
}

func (r *FeedRepository) getOne(ctx context.Context, column, value string) (*models.Feed, error) {
	row := r.DB().QueryRowContext(ctx, "SELECT "+feedColumns+" FROM calendar_feeds WHERE "+column+" = ?", value)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying feed")
	}
	return feed, nil
}

// List retrieves all feeds.
func (r *FeedRepository) List(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, "SELECT "+feedColumns+" FROM calendar_feeds ORDER BY name")
}

// ListEnabled retrieves all enabled feeds, least recently synced first.
func (r *FeedRepository) ListEnabled(ctx context.Context) ([]models.Feed, error) {
	return r.list(ctx, `
		SELECT `+feedColumns+` FROM calendar_feeds
		WHERE enabled = 1
		ORDER BY last_sync_at ASC NULLS FIRST
	`)
}

func (r *FeedRepository) list(ctx context.Context, query string) ([]models.Feed, error) {
	rows, err := r.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "querying feeds")
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning feed")
		}
		feeds = append(feeds, *feed)
	}
	return feeds, rows.Err()
}

// Update updates the editable fields of a feed.
func (r *FeedRepository) Update(ctx context.Context, feed *models.Feed) error {
	feed.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_feeds SET
			name = ?, url = ?, sync_interval_min = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, feed.Name, feed.URL, feed.SyncIntervalMin, feed.Enabled, feed.UpdatedAt, feed.ID)
	if err != nil {
		return errors.Wrap(err, "updating feed")
	}
	return requireAffected(result, "feed", feed.ID)
}

// MarkSyncing flags a feed as being fetched.
func (r *FeedRepository) MarkSyncing(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx,
		"UPDATE calendar_feeds SET sync_status = ?, updated_at = ? WHERE id = ?",
		models.SyncStatusSyncing, r.Now(), id)
	if err != nil {
		return errors.Wrap(err, "marking feed syncing")
	}
	return nil
}

// MarkSynced records a successful sync. It runs inside the transaction that
// replaced the feed's events.
func (r *FeedRepository) MarkSynced(ctx context.Context, tx *sql.Tx, id string, at time.Time, eventCount int) error {
	result, err := r.q(tx).ExecContext(ctx, `
		UPDATE calendar_feeds SET
			sync_status = ?, sync_error = NULL, last_sync_at = ?, event_count = ?, updated_at = ?
		WHERE id = ?
	`, models.SyncStatusSuccess, at, eventCount, r.Now(), id)
	if err != nil {
		return errors.Wrap(err, "recording sync success")
	}
	return requireAffected(result, "feed", id)
}

// MarkFailed records a failed sync. last_sync_at and event_count are kept.
func (r *FeedRepository) MarkFailed(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_feeds SET
			sync_status = ?, sync_error = ?, last_error_at = ?, updated_at = ?
		WHERE id = ?
	`, models.SyncStatusError, reason, at, r.Now(), id)
	if err != nil {
		return errors.Wrap(err, "recording sync failure")
	}
	return nil
}

// LatestSync returns the most recent successful sync across enabled feeds.
func (r *FeedRepository) LatestSync(ctx context.Context) (*time.Time, error) {
	feeds, err := r.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, f := range feeds {
		if f.LastSyncAt != nil && (latest == nil || f.LastSyncAt.After(*latest)) {
			t := *f.LastSyncAt
			latest = &t
		}
	}
	return latest, nil
}

// Delete removes a feed by ID. Its events go with it.
func (r *FeedRepository) Delete(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM calendar_feeds WHERE id = ?", id)
	if err != nil {
		return errors.Wrap(err, "deleting feed")
	}
	return requireAffected(result, "feed", id)
}

func scanFeed(s rowScanner) (*models.Feed, error) {
	feed := &models.Feed{}
	err := s.Scan(
		&feed.ID, &feed.Name, &feed.URL, &feed.SyncIntervalMin, &feed.Enabled,
		&feed.LastSyncAt, &feed.LastErrorAt, &feed.SyncStatus, &feed.SyncError,
		&feed.EventCount, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return feed, nil
}
