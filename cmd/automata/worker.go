package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func NewWorkerCommand() *cli.Command {
	flags := append(runtimeFlags(),
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
	)

	return &cli.Command{
		Name:    "worker",
		Aliases: []string{"w"},
		Usage:   "Execute runs handed off on the event bus",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			setupLogging(command)

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.NewString()[:8]
			}

			logger := log.WithModule("worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Automata worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := runtimeConfig(command, "automata-worker")
			cfg.Handoff = cmd.HandoffLocal

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

			if err := rt.Engine.Listen(rt.EventBus); err != nil {
				return err
			}

			if err := rt.EventBus.Subscribe(ctx); err != nil {
				return fmt.Errorf("subscribe to event bus: %w", err)
			}

			logger.InfoContext(ctx, "Worker ready")

			<-ctx.Done()

			logger.Info("Worker stopping", "active_runs", rt.Engine.Active())

			return nil
		},
	}
}
