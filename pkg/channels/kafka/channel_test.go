package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "automata")
	require.ErrorIs(t, err, ErrNoBrokers)

	_, _, err = CreateChannel(watermill.NopLogger{}, []string{""}, "automata")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("m1", nil)
	msg.Metadata.Set(events.EventMetadataKey, "wf-1")

	key, err := partitionKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", key)

	key, err = partitionKey(events.Topic, message.NewMessage("m2", nil))
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestEventBusOverKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	ctx := t.Context()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0",
		testcontainers.WithEnv(map[string]string{"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true"}))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := CreateChannel(watermill.NopLogger{}, brokers, "automata-test")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.DomainEvent, 1)

	require.NoError(t, bus.Handle(events.DomainEventType, func(_ context.Context, event any) error {
		received <- event.(*events.DomainEvent)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "contact.created", events.DomainEvent{
		BaseEvent: events.NewBaseEvent(events.DomainEventType, ""),
		Name:      "contact.created",
		Payload:   map[string]any{"contact_id": "c-1"},
	}))

	select {
	case event := <-received:
		assert.Equal(t, "contact.created", event.Name)
		assert.Equal(t, "c-1", event.Payload["contact_id"])
	case <-time.After(60 * time.Second):
		t.Fatal("event not received")
	}
}
