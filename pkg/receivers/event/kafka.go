package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig selects the external topics carrying CRM events.
type KafkaConfig struct {
	Brokers       []string
	Topics        []string
	ConsumerGroup string
}

const DefaultConsumerGroup = "automata-event-receiver"

var ErrNoTopics = errors.New("at least one kafka topic is required")

// KafkaConsumer reads CRM events from Kafka topics and hands them to a Receiver. A message value
// is either an envelope {"name": ..., "payload": {...}} or a bare JSON payload named by its
// "event" header, its key or its topic, in that order.
type KafkaConsumer struct {
	receiver *Receiver
	config   KafkaConfig
	logger   *slog.Logger
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewKafkaConsumer(receiver *Receiver, config KafkaConfig, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(config.Topics) == 0 {
		return nil, ErrNoTopics
	}

	if config.ConsumerGroup == "" {
		config.ConsumerGroup = DefaultConsumerGroup
	}

	return &KafkaConsumer{
		receiver: receiver,
		config:   config,
		logger:   logger.With("module", "kafka_event_consumer", "consumer_group", config.ConsumerGroup),
	}, nil
}

func saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Group.Session.Timeout = 10 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	return config
}

// Start joins the consumer group and consumes until Stop or ctx is done.
func (k *KafkaConsumer) Start(ctx context.Context) error {
	group, err := sarama.NewConsumerGroup(k.config.Brokers, k.config.ConsumerGroup, saramaConfig())
	if err != nil {
		return fmt.Errorf("create kafka consumer group: %w", err)
	}

	k.group = group

	ctx, k.cancel = context.WithCancel(ctx)

	k.wg.Add(2)

	go func() {
		defer k.wg.Done()

		for {
			if err := group.Consume(ctx, k.config.Topics, k); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}

				k.logger.ErrorContext(ctx, "kafka consume failed", "error", err)

				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer k.wg.Done()

		for {
			select {
			case err, ok := <-group.Errors():
				if !ok {
					return
				}

				k.logger.ErrorContext(ctx, "kafka consumer group error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	k.logger.InfoContext(ctx, "kafka event consumer started", "topics", k.config.Topics)

	return nil
}

func (k *KafkaConsumer) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}

	var err error
	if k.group != nil {
		err = k.group.Close()
	}

	k.wg.Wait()
	k.logger.InfoContext(ctx, "kafka event consumer stopped")

	return err
}

func (k *KafkaConsumer) Setup(sarama.ConsumerGroupSession) error {
	k.logger.Debug("kafka consumer group session started")

	return nil
}

func (k *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	k.logger.Debug("kafka consumer group session ended")

	return nil
}

// ConsumeClaim dispatches every message and marks it, also when dispatch fails, so one bad
// message cannot stall the partition.
func (k *KafkaConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()

	for msg := range claim.Messages() {
		logger := k.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

		name, payload, err := decodeMessage(msg)
		if err != nil {
			logger.WarnContext(ctx, "skipping undecodable kafka message", "error", err)
			session.MarkMessage(msg, "")

			continue
		}

		if _, err := k.receiver.Receive(ctx, name, payload); err != nil {
			logger.ErrorContext(ctx, "kafka event dispatch failed", "event", name, "error", err)
		}

		session.MarkMessage(msg, "")
	}

	return nil
}

type envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func decodeMessage(msg *sarama.ConsumerMessage) (string, json.RawMessage, error) {
	if len(msg.Value) == 0 {
		return eventName(msg), json.RawMessage("{}"), nil
	}

	if !json.Valid(msg.Value) {
		return "", nil, errors.New("message value is not JSON")
	}

	var env envelope
	if err := json.Unmarshal(msg.Value, &env); err == nil && env.Name != "" && len(env.Payload) > 0 {
		return env.Name, env.Payload, nil
	}

	return eventName(msg), json.RawMessage(msg.Value), nil
}

func eventName(msg *sarama.ConsumerMessage) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == "event" {
			return string(h.Value)
		}
	}

	if len(msg.Key) > 0 {
		return string(msg.Key)
	}

	return msg.Topic
}
