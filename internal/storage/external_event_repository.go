package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// ExternalEventRepository stores the event snapshot of each feed.
type ExternalEventRepository struct {
	BaseRepository
}

// NewExternalEventRepository creates a new external event repository.
func NewExternalEventRepository(db *DB) *ExternalEventRepository {
	return &ExternalEventRepository{BaseRepository: NewBaseRepository(db)}
}

// Replace swaps the feed's snapshot for events inside tx.
func (r *ExternalEventRepository) Replace(ctx context.Context, tx *sql.Tx, feedID string, events []models.ExternalEvent) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM external_events WHERE feed_id = ?", feedID); err != nil {
		return errors.Wrap(err, "deleting feed events")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO external_events (feed_id, uid, start_date, end_date, summary, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "preparing event insert")
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, feedID, ev.UID, ev.Start, ev.End, ev.Summary, models.ExternalEventStatus); err != nil {
			return errors.Wrapf(err, "inserting event %s", ev.UID)
		}
	}
	return nil
}

// eventsOfEnabledFeeds selects events whose feed is enabled. Disabling a feed
// stops its snapshot from blocking without discarding it.
const eventsOfEnabledFeeds = `
	SELECT e.feed_id, e.uid, e.start_date, e.end_date, e.summary, e.status
	FROM external_events e
	JOIN calendar_feeds f ON f.id = e.feed_id AND f.enabled = 1
`

// ListOverlapping returns events of every enabled feed intersecting rng.
func (r *ExternalEventRepository) ListOverlapping(ctx context.Context, tx *sql.Tx, rng models.DateRange) ([]models.ExternalEvent, error) {
	return r.query(ctx, r.q(tx), eventsOfEnabledFeeds+`
		WHERE e.start_date < ? AND e.end_date > ?
		ORDER BY e.start_date
	`, rng.End, rng.Start)
}

// ListAll returns every event of enabled feeds ordered by start date.
func (r *ExternalEventRepository) ListAll(ctx context.Context) ([]models.ExternalEvent, error) {
	return r.query(ctx, r.DB(), eventsOfEnabledFeeds+`
		ORDER BY e.start_date, e.uid
	`)
}

// ListByFeed returns the snapshot of a single feed.
func (r *ExternalEventRepository) ListByFeed(ctx context.Context, feedID string) ([]models.ExternalEvent, error) {
	return r.query(ctx, r.DB(), `
		SELECT feed_id, uid, start_date, end_date, summary, status FROM external_events
		WHERE feed_id = ?
		ORDER BY start_date, uid
	`, feedID)
}

func (r *ExternalEventRepository) query(ctx context.Context, q Queryable, query string, args ...any) ([]models.ExternalEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying external events")
	}
	defer rows.Close()

	var events []models.ExternalEvent
	for rows.Next() {
		var ev models.ExternalEvent
		if err := rows.Scan(&ev.FeedID, &ev.UID, &ev.Start, &ev.End, &ev.Summary, &ev.Status); err != nil {
			return nil, errors.Wrap(err, "scanning external event")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
