// Package availability answers which dates are blocked, combining local
// stays with the latest snapshot of every external feed.
package availability

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stay-ledger/backend/internal/reservation"
	"github.com/stay-ledger/backend/internal/storage/models"
)

// MaxSpanDays caps a single BlockedDates query.
const MaxSpanDays = 731

// ReservationReader lists stays intersecting a range. Cancelled stays are
// excluded by the implementation.
type ReservationReader interface {
	ListOverlapping(ctx context.Context, tx *sql.Tx, rng models.DateRange) ([]models.Reservation, error)
}

// EventReader lists external events intersecting a range.
type EventReader interface {
	ListOverlapping(ctx context.Context, tx *sql.Tx, rng models.DateRange) ([]models.ExternalEvent, error)
}

// SyncReader reports the last successful feed sync.
type SyncReader interface {
	LatestSync(ctx context.Context) (*time.Time, error)
}

// Calendar is the blocked-date view of [From, To).
type Calendar struct {
	From      models.Date    `json:"from"`
	To        models.Date    `json:"to"`
	Days      []models.Date  `json:"blockedDates"`
	Intervals []models.Block `json:"intervals"`
	LastSync  *time.Time     `json:"lastSync"`
}

// Aggregator is read-only.
type Aggregator struct {
	reservations ReservationReader
	events       EventReader
	syncs        SyncReader
	logger       *slog.Logger
}

// NewAggregator creates an availability aggregator.
func NewAggregator(reservations ReservationReader, events EventReader, syncs SyncReader, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		reservations: reservations,
		events:       events,
		syncs:        syncs,
		logger:       logger.With("component", "availability"),
	}
}

// BlockedDates returns every blocked day in [from, to), sorted and without
// duplicates, along with the raw intervals that produced them.
func (a *Aggregator) BlockedDates(ctx context.Context, from, to models.Date) (*Calendar, error) {
	rng := models.DateRange{Start: from, End: to}
	if err := checkRange(rng); err != nil {
		return nil, err
	}

	blockers, err := a.blockers(ctx, rng)
	if err != nil {
		return nil, err
	}

	cal := &Calendar{From: from, To: to, Days: []models.Date{}, Intervals: []models.Block{}}
	seen := make(map[string]struct{})
	for _, b := range blockers {
		if !b.Blocks() {
			continue
		}
		block := b.Block()
		clipped, ok := block.Range.Intersect(rng)
		if !ok {
			continue
		}
		cal.Intervals = append(cal.Intervals, block)
		for _, day := range clipped.Days() {
			if _, dup := seen[day.String()]; dup {
				continue
			}
			seen[day.String()] = struct{}{}
			cal.Days = append(cal.Days, day)
		}
	}
	sort.Slice(cal.Days, func(i, j int) bool { return cal.Days[i].Before(cal.Days[j]) })
	sort.SliceStable(cal.Intervals, func(i, j int) bool {
		return cal.Intervals[i].Range.Start.Before(cal.Intervals[j].Range.Start)
	})

	if a.syncs != nil {
		cal.LastSync, err = a.syncs.LatestSync(ctx)
		if err != nil {
			return nil, err
		}
	}
	return cal, nil
}

// IsAvailable reports whether day is free.
func (a *Aggregator) IsAvailable(ctx context.Context, day models.Date) (bool, error) {
	available, _, err := a.Check(ctx, models.DateRange{Start: day, End: day.AddDays(1)})
	return available, err
}

// Check reports whether the stay rng could be booked, and what is in the way
// if not.
func (a *Aggregator) Check(ctx context.Context, rng models.DateRange) (bool, []reservation.Conflict, error) {
	if err := checkRange(rng); err != nil {
		return false, nil, err
	}
	blockers, err := a.blockers(ctx, rng)
	if err != nil {
		return false, nil, err
	}
	conflicts := reservation.Detect(rng, blockers, "")
	return len(conflicts) == 0, conflicts, nil
}

// blockers loads both sources. Each read sees a committed state; a feed
// snapshot is swapped in a single transaction so it is never half applied.
func (a *Aggregator) blockers(ctx context.Context, rng models.DateRange) ([]models.Blocker, error) {
	stays, err := a.reservations.ListOverlapping(ctx, nil, rng)
	if err != nil {
		return nil, errors.Wrap(err, "loading reservations")
	}
	events, err := a.events.ListOverlapping(ctx, nil, rng)
	if err != nil {
		return nil, errors.Wrap(err, "loading external events")
	}
	a.logger.Debug("availability sources loaded", "range", rng.String(), "reservations", len(stays), "events", len(events))

	return append(models.ReservationBlockers(stays), models.EventBlockers(events)...), nil
}

func checkRange(rng models.DateRange) error {
	switch {
	case rng.Start.IsZero():
		return &reservation.ValidationError{Field: "from", Message: "is required"}
	case rng.End.IsZero():
		return &reservation.ValidationError{Field: "to", Message: "is required"}
	case !rng.Valid():
		return &reservation.ValidationError{Field: "to", Message: "must be after from"}
	case rng.Nights() > MaxSpanDays:
		return &reservation.ValidationError{Field: "to", Message: "range is too long"}
	}
	return nil
}
