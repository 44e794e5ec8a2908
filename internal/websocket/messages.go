package websocket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stay-ledger/backend/internal/storage/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeReservationCreated       MessageType = "reservation.created"
	TypeReservationUpdated       MessageType = "reservation.updated"
	TypeReservationCancelled     MessageType = "reservation.cancelled"
	TypeReservationDeleted       MessageType = "reservation.deleted"
	TypeReservationStatusChanged MessageType = "reservation.status_changed"
	TypeCalendarSyncCompleted    MessageType = "calendar.sync_completed"
	TypeCalendarSyncError        MessageType = "calendar.sync_error"
	TypeNotification             MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Aggregate returns the entity family a message type belongs to.
func (t MessageType) Aggregate() string {
	aggregate, _, _ := strings.Cut(string(t), ".")
	return aggregate
}

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReservationStatusPayload is the payload for reservation.status_changed events.
type ReservationStatusPayload struct {
	ReservationID   string                   `json:"reservationId"`
	ReservationCode string                   `json:"reservationCode"`
	GuestRef        string                   `json:"userId"`
	PreviousStatus  models.ReservationStatus `json:"previousStatus"`
	NewStatus       models.ReservationStatus `json:"newStatus"`
}

// ReservationDeletedPayload is the payload for reservation.deleted events.
type ReservationDeletedPayload struct {
	ReservationID string `json:"reservationId"`
}

// CalendarSyncErrorPayload is the payload for calendar.sync_error events.
type CalendarSyncErrorPayload struct {
	FeedID   string `json:"feedId"`
	FeedName string `json:"feedName"`
	Error    string `json:"error"`
	Message  string `json:"message"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
