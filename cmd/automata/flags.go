package main

import (
	"time"

	"github.com/dukex/automata/pkg/archive"
	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/executor"
	"github.com/dukex/automata/pkg/log"
	"github.com/urfave/cli/v3"
)

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func setupLogging(command *cli.Command) {
	log.Setup(command.String("log-level"), command.String("log-format"))
}

// runtimeFlags are the flags read by runtimeConfig.
func runtimeFlags() []cli.Flag {
	defaults := executor.DefaultBackoff()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL: a directory, file://dir, postgres://... or redis://...",
			Value:   "./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   cmd.EventBusMemory,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the kafka event bus and event topics",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.DurationFlag{
			Name:    "node-timeout",
			Usage:   "Deadline of one node attempt (0 disables it)",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("NODE_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "retry-initial-interval",
			Usage:   "First backoff interval between node retries",
			Value:   defaults.InitialInterval,
			Sources: cli.EnvVars("RETRY_INITIAL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "retry-max-interval",
			Usage:   "Largest backoff interval between node retries",
			Value:   defaults.MaxInterval,
			Sources: cli.EnvVars("RETRY_MAX_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "delete-policy",
			Usage:   "What deleting a workflow with runs does (reject, archive)",
			Value:   "reject",
			Sources: cli.EnvVars("DELETE_POLICY"),
		},
		&cli.StringFlag{
			Name:    "archive-endpoint",
			Usage:   "S3 compatible endpoint receiving archived run history",
			Sources: cli.EnvVars("ARCHIVE_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "archive-bucket",
			Usage:   "Archive bucket",
			Value:   "automata-archive",
			Sources: cli.EnvVars("ARCHIVE_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "archive-access-key",
			Sources: cli.EnvVars("ARCHIVE_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "archive-secret-key",
			Sources: cli.EnvVars("ARCHIVE_SECRET_KEY"),
		},
		&cli.StringFlag{
			Name:    "archive-region",
			Sources: cli.EnvVars("ARCHIVE_REGION"),
		},
		&cli.BoolFlag{
			Name:    "archive-ssl",
			Usage:   "Use TLS for the archive endpoint",
			Sources: cli.EnvVars("ARCHIVE_USE_SSL"),
		},
		&cli.StringFlag{
			Name:    "email-url",
			Usage:   "Email provider endpoint; emails are logged when empty",
			Sources: cli.EnvVars("EMAIL_PROVIDER_URL"),
		},
		&cli.StringFlag{
			Name:    "enrich-url",
			Usage:   "Contact enrichment endpoint",
			Sources: cli.EnvVars("ENRICH_PROVIDER_URL"),
		},
		&cli.StringFlag{
			Name:    "score-url",
			Usage:   "Lead scoring endpoint",
			Sources: cli.EnvVars("SCORE_PROVIDER_URL"),
		},
		&cli.StringFlag{
			Name:    "ai-url",
			Usage:   "AI inference endpoint",
			Sources: cli.EnvVars("AI_PROVIDER_URL"),
		},
		&cli.StringFlag{
			Name:    "collaborator-token",
			Usage:   "Bearer token sent to every collaborator endpoint",
			Sources: cli.EnvVars("COLLABORATOR_TOKEN"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces (configured by OTEL_EXPORTER_OTLP_*)",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}

	return append(flags, logFlags()...)
}

func runtimeConfig(command *cli.Command, serviceName string) cmd.RuntimeConfig {
	backoff := executor.DefaultBackoff()
	backoff.InitialInterval = command.Duration("retry-initial-interval")
	backoff.MaxInterval = command.Duration("retry-max-interval")

	return cmd.RuntimeConfig{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.StringSlice("kafka-brokers"),
		NodeTimeout:  command.Duration("node-timeout"),
		Backoff:      backoff,
		DeletePolicy: command.String("delete-policy"),
		Archive: archive.Config{
			Endpoint:  command.String("archive-endpoint"),
			AccessKey: command.String("archive-access-key"),
			SecretKey: command.String("archive-secret-key"),
			Bucket:    command.String("archive-bucket"),
			Region:    command.String("archive-region"),
			UseSSL:    command.Bool("archive-ssl"),
		},
		Collaborators: cmd.CollaboratorConfig{
			EmailURL:  command.String("email-url"),
			EnrichURL: command.String("enrich-url"),
			ScoreURL:  command.String("score-url"),
			AIURL:     command.String("ai-url"),
			Token:     command.String("collaborator-token"),
		},
		Tracing: command.Bool("tracing"),
	}
}
