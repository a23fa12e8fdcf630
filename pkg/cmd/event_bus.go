package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/automata/pkg/channels/gochannel"
	"github.com/dukex/automata/pkg/channels/kafka"
	"github.com/dukex/automata/pkg/eventbus"
)

// Event bus providers accepted by NewEventBus.
const (
	EventBusMemory = "memory"
	EventBusKafka  = "kafka"
)

// NewEventBus creates the event bus for provider. "memory" (or empty) keeps every event in the
// process; "kafka" joins consumer group "cg-<serviceName>" on brokers.
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", EventBusMemory, "gochannel":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(wmLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %q", provider)
	}
}
