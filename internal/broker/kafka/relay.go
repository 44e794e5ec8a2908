package kafka

import (
	"context"
)

// Publisher is the subset of Producer the relay needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// EventRelay routes event envelopes to one topic per aggregate, keyed by the
// property so every event for it lands on the same partition in order.
type EventRelay struct {
	pub         Publisher
	topicPrefix string
	propertyID  string
}

// NewEventRelay creates a relay publishing through pub.
func NewEventRelay(pub Publisher, topicPrefix, propertyID string) *EventRelay {
	return &EventRelay{pub: pub, topicPrefix: topicPrefix, propertyID: propertyID}
}

// Topic returns the topic name for an aggregate.
func (r *EventRelay) Topic(aggregate string) string {
	return r.topicPrefix + aggregate + ".events.v1"
}

// Relay publishes one envelope.
func (r *EventRelay) Relay(ctx context.Context, aggregate, eventType string, payload []byte) error {
	return r.pub.Publish(ctx, r.Topic(aggregate), r.propertyID, payload, map[string]string{
		"event_type":  eventType,
		"property_id": r.propertyID,
	})
}
