package models

import (
	"time"
)

// Feed is an external iCal subscription that blocks dates on the property.
type Feed struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	SyncIntervalMin int        `json:"syncIntervalMin"`
	Enabled         bool       `json:"enabled"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
	LastErrorAt     *time.Time `json:"lastErrorAt,omitempty"`
	SyncStatus      string     `json:"syncStatus"`
	SyncError       *string    `json:"syncError,omitempty"`
	EventCount      int        `json:"eventCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// SyncStatus constants
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// ExternalEventStatus is the only status an imported event carries.
const ExternalEventStatus = "blocked"

// ExternalEvent is a date range blocked by a feed.
type ExternalEvent struct {
	FeedID  string `json:"feedId"`
	UID     string `json:"uid"`
	Start   Date   `json:"start"`
	End     Date   `json:"end"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

// Range returns the event as a half-open date interval.
func (e *ExternalEvent) Range() DateRange {
	return DateRange{Start: e.Start, End: e.End}
}

// Block implements Blocker.
func (e *ExternalEvent) Block() Block {
	return Block{Kind: BlockExternal, Ref: e.UID, Label: e.Summary, Range: e.Range()}
}

// Blocks implements Blocker. Feed events always block.
func (e *ExternalEvent) Blocks() bool { return true }

// Overlap is a feed event intersecting a local stay. Feeds are outside our
// control so these are reported rather than rejected.
type Overlap struct {
	Reservation Block     `json:"reservation"`
	Event       Block     `json:"event"`
	Window      DateRange `json:"window"`
}

// SyncResult contains the results of a feed sync.
type SyncResult struct {
	FeedID     string    `json:"feedId"`
	FeedName   string    `json:"feedName"`
	EventCount int       `json:"eventCount"`
	Skipped    int       `json:"skipped"`
	Overlaps   []Overlap `json:"overlaps,omitempty"`
	SyncedAt   time.Time `json:"syncedAt"`
}

// EventBlockers returns each event as a Blocker.
func EventBlockers(events []ExternalEvent) []Blocker {
	out := make([]Blocker, 0, len(events))
	for i := range events {
		out = append(out, &events[i])
	}
	return out
}
