package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/models"
	"github.com/urfave/cli/v3"
)

var errMissingWorkflowID = errors.New("workflow id is required")

// runReport is printed by the run command.
type runReport struct {
	Run   *models.Run    `json:"run"`
	Steps []*models.Step `json:"steps"`
}

func NewRunCommand() *cli.Command {
	flags := append(runtimeFlags(),
		&cli.StringFlag{
			Name:  "data",
			Usage: "JSON trigger data",
			Value: "{}",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the run to finish",
			Value: 10 * time.Minute,
		},
	)

	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run a workflow now and print the run with its steps",
		ArgsUsage: "<workflow-id>",
		Flags:     flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			setupLogging(command)

			workflowID := command.Args().First()
			if workflowID == "" {
				return errMissingWorkflowID
			}

			logger := log.WithModule("run")

			cfg := runtimeConfig(command, "automata-run")
			cfg.Handoff = cmd.HandoffLocal

			rt, err := cmd.NewRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("Failed to close runtime", "error", err)
				}
			}()

			run, err := rt.Runs.Trigger(ctx, workflowID, json.RawMessage(command.String("data")))
			if err != nil {
				return err
			}

			waitCtx, cancel := context.WithTimeout(ctx, command.Duration("timeout"))
			defer cancel()

			finished, err := rt.Engine.Wait(waitCtx, run.ID)
			if err != nil {
				return fmt.Errorf("wait for run %s: %w", run.ID, err)
			}

			steps, err := rt.Runs.FetchSteps(ctx, run.ID)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			if err := encoder.Encode(runReport{Run: finished, Steps: steps}); err != nil {
				return err
			}

			if finished.Status == models.RunStatusFailed {
				return fmt.Errorf("run %s failed: %s", finished.ID, finished.Error)
			}

			return nil
		},
	}
}
