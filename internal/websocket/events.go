package websocket

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// Relay forwards broadcast envelopes to an out-of-process consumer.
type Relay interface {
	Relay(ctx context.Context, aggregate, eventType string, payload []byte) error
}

// EventBroadcaster fans domain events out to WebSocket clients and, when
// configured, to a Relay.
type EventBroadcaster struct {
	hub    *Hub
	relay  Relay
	logger *slog.Logger
}

// NewEventBroadcaster creates a new event broadcaster. relay may be nil.
func NewEventBroadcaster(hub *Hub, relay Relay, logger *slog.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, relay: relay, logger: logger}
}

// ReservationEvent sends reservation.created, updated or cancelled.
func (b *EventBroadcaster) ReservationEvent(ctx context.Context, event string, res *models.Reservation) {
	msgType := MessageType("reservation." + event)
	switch msgType {
	case TypeReservationCreated, TypeReservationUpdated, TypeReservationCancelled:
	default:
		b.logger.Error("unknown reservation event", "event", event)
		return
	}
	b.broadcast(ctx, NewMessage(msgType, res))
}

// ReservationDeleted sends a reservation.deleted event.
func (b *EventBroadcaster) ReservationDeleted(ctx context.Context, id string) {
	b.broadcast(ctx, NewMessage(TypeReservationDeleted, ReservationDeletedPayload{ReservationID: id}))
}

// ReservationStatusChanged sends a reservation.status_changed event.
func (b *EventBroadcaster) ReservationStatusChanged(ctx context.Context, res *models.Reservation, previous models.ReservationStatus) {
	b.broadcast(ctx, NewMessage(TypeReservationStatusChanged, ReservationStatusPayload{
		ReservationID:   res.ID,
		ReservationCode: res.ReservationCode,
		GuestRef:        res.GuestRef,
		PreviousStatus:  previous,
		NewStatus:       res.Status,
	}))
}

// SyncCompleted sends a calendar sync completed event, plus a warning
// notification when the feed overlaps local stays.
func (b *EventBroadcaster) SyncCompleted(ctx context.Context, result *models.SyncResult) {
	b.broadcast(ctx, NewMessage(TypeCalendarSyncCompleted, result))

	if len(result.Overlaps) > 0 {
		b.Notify(ctx, "warning", "Calendar overlap",
			fmt.Sprintf("%s blocks dates already booked by %d local stay(s)", result.FeedName, len(result.Overlaps)))
	}
}

// SyncFailed sends a calendar sync error event.
func (b *EventBroadcaster) SyncFailed(ctx context.Context, feed *models.Feed, kind, reason string) {
	b.broadcast(ctx, NewMessage(TypeCalendarSyncError, CalendarSyncErrorPayload{
		FeedID:   feed.ID,
		FeedName: feed.Name,
		Error:    kind,
		Message:  reason,
	}))
}

// Notify sends a notification to all connected clients.
func (b *EventBroadcaster) Notify(ctx context.Context, level, title, message string) {
	b.broadcast(ctx, NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}

func (b *EventBroadcaster) broadcast(ctx context.Context, msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.Error("encoding websocket message", "type", msg.Type, "error", err)
		return
	}

	if b.hub != nil {
		b.hub.Broadcast(data)
	}

	if b.relay != nil && msg.Type != TypeNotification {
		if err := b.relay.Relay(ctx, msg.Type.Aggregate(), string(msg.Type), data); err != nil {
			b.logger.Warn("relaying event", "type", msg.Type, "error", err)
		}
	}
}
