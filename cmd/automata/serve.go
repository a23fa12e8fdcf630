package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/receivers/event"
	"github.com/dukex/automata/pkg/receivers/schedule"
	"github.com/gofiber/fiber/v3"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

// lifecycle is a started component that must be stopped on shutdown.
type lifecycle interface {
	Stop(ctx context.Context) error
}

func NewServeCommand() *cli.Command {
	flags := append(runtimeFlags(),
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "handoff",
			Usage:   "Where admitted runs execute: local, or bus for separate workers",
			Value:   cmd.HandoffLocal,
			Sources: cli.EnvVars("RUN_HANDOFF"),
		},
		&cli.StringSliceFlag{
			Name:    "event-topics",
			Usage:   "External Kafka topics carrying CRM domain events",
			Sources: cli.EnvVars("KAFKA_EVENT_TOPICS"),
		},
		&cli.StringFlag{
			Name:    "event-consumer-group",
			Usage:   "Consumer group of the Kafka event topics",
			Value:   event.DefaultConsumerGroup,
			Sources: cli.EnvVars("KAFKA_EVENT_CONSUMER_GROUP"),
		},
		&cli.DurationFlag{
			Name:    "schedule-refresh",
			Usage:   "How often schedules are reloaded from storage",
			Value:   schedule.DefaultRefreshInterval,
			Sources: cli.EnvVars("SCHEDULE_REFRESH_INTERVAL"),
		},
	)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API, webhook, schedule and event receivers",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			setupLogging(command)

			logger := log.WithModule("serve")
			logger.InfoContext(ctx, "Initializing Automata")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := runtimeConfig(command, "automata")
			cfg.Handoff = command.String("handoff")

			rt, err := cmd.NewRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := rt.Close(shutdownCtx); err != nil {
					logger.Error("Failed to close runtime", "error", err)
				}
			}()

			var started []lifecycle

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				for i := len(started) - 1; i >= 0; i-- {
					if err := started[i].Stop(shutdownCtx); err != nil {
						logger.Error("Failed to stop receiver", "error", err)
					}
				}
			}()

			scheduler := schedule.NewReceiver(rt.Dispatcher, rt.Persistence.WorkflowRepository(), logger,
				schedule.WithRefreshInterval(command.Duration("schedule-refresh")))
			if err := scheduler.Subscribe(rt.EventBus); err != nil {
				return err
			}

			events := event.NewReceiver(rt.Dispatcher, logger)
			if err := events.Subscribe(rt.EventBus); err != nil {
				return err
			}

			if err := rt.EventBus.Subscribe(ctx); err != nil {
				return fmt.Errorf("subscribe to event bus: %w", err)
			}

			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			started = append(started, scheduler)

			if topics := command.StringSlice("event-topics"); len(topics) > 0 {
				consumer, err := event.NewKafkaConsumer(events, event.KafkaConfig{
					Brokers:       command.StringSlice("kafka-brokers"),
					Topics:        topics,
					ConsumerGroup: command.String("event-consumer-group"),
				}, logger)
				if err != nil {
					return err
				}

				if err := consumer.Start(ctx); err != nil {
					return err
				}

				started = append(started, consumer)
			}

			return serveAPI(ctx, rt.API(), command.Int("port"))
		},
	}
}

// serveAPI listens until ctx is done, then shuts the app down.
func serveAPI(ctx context.Context, app *fiber.App, port int) error {
	logger := log.WithModule("api")
	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.InfoContext(ctx, "API listening", "port", port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down API")

	return app.ShutdownWithTimeout(shutdownTimeout)
}
