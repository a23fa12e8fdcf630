// Package event fires event-triggered workflows from CRM domain events, either published on the
// automata event bus or consumed from external Kafka topics.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/automata/pkg/dispatcher"
	"github.com/dukex/automata/pkg/eventbus"
	"github.com/dukex/automata/pkg/events"
	"github.com/dukex/automata/pkg/models"
)

// Dispatcher fans a named event out to its subscribed workflows.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, eventName string, payload json.RawMessage) ([]*models.Run, error)
}

type Receiver struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewReceiver(d Dispatcher, logger *slog.Logger) *Receiver {
	return &Receiver{
		dispatcher: d,
		logger:     logger.With("module", "event_receiver"),
	}
}

// Subscribe registers the domain event handler on bus.
func (r *Receiver) Subscribe(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.DomainEventType, r.handleDomainEvent)
}

func (r *Receiver) handleDomainEvent(ctx context.Context, event any) error {
	domainEvent, ok := event.(*events.DomainEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	payload, err := json.Marshal(domainEvent.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", domainEvent.Name, err)
	}

	_, err = r.Receive(ctx, domainEvent.Name, payload)

	return err
}

// Receive dispatches one named event. Subscribers that are not active are logged and skipped;
// any other admission failure is returned.
func (r *Receiver) Receive(ctx context.Context, name string, payload json.RawMessage) ([]*models.Run, error) {
	if name == "" {
		return nil, ErrMissingEventName
	}

	logger := r.logger.With("event", name)

	runs, err := r.dispatcher.DispatchEvent(ctx, name, payload)

	var failed []error

	for _, e := range unwrapJoined(err) {
		if dispatcher.IsKind(e, dispatcher.NotActive) {
			logger.DebugContext(ctx, "event skipped by inactive workflow", "reason", e)

			continue
		}

		failed = append(failed, e)
	}

	logger.InfoContext(ctx, "event received", "runs", len(runs), "failed", len(failed))

	return runs, errors.Join(failed...)
}

// ErrMissingEventName is returned for events without a name.
var ErrMissingEventName = errors.New("event name is required")

func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}

	return []error{err}
}
