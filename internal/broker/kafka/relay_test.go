package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRelayRoutesByAggregate(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = mock.Close() })

	var got *sarama.ProducerMessage
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		got = msg
		return nil
	})

	relay := NewEventRelay(NewProducerFrom(mock), "stay.", "villa-1")
	err := relay.Relay(context.Background(), "reservation", "reservation.created", []byte(`{"id":"r1"}`))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "stay.reservation.events.v1", got.Topic)

	key, err := got.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "villa-1", string(key))

	headers := map[string]string{}
	for _, h := range got.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "reservation.created", headers["event_type"])
}

func TestEventRelayPropagatesBrokerError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = mock.Close() })
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	relay := NewEventRelay(NewProducerFrom(mock), "", "p")
	err := relay.Relay(context.Background(), "calendar", "calendar.sync_error", []byte(`{}`))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = mock.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewProducerFrom(mock).Publish(ctx, "t", "k", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
