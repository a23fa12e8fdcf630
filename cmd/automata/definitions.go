package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/automata/pkg/cmd"
	"github.com/dukex/automata/pkg/config"
	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/services"
	"github.com/urfave/cli/v3"
)

var (
	errMissingPath        = errors.New("path to a workflow file or directory is required")
	errInvalidDefinitions = errors.New("some workflow definitions are invalid")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check workflow definition files without storing them",
		ArgsUsage: "<file-or-directory>",
		Flags:     logFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			setupLogging(command)

			path := command.Args().First()
			if path == "" {
				return errMissingPath
			}

			logger := log.WithModule("validate")

			registry, err := cmd.NewRegistry(logger, cmd.CollaboratorConfig{})
			if err != nil {
				return err
			}

			service := services.NewWorkflow(nil,
				services.WithNodeValidator(registry),
				services.WithLogger(logger),
			)

			return validateDefinitions(os.Stdout, service, path)
		},
	}
}

// validateDefinitions prints one line per definition and fails when any is invalid.
func validateDefinitions(w io.Writer, service *services.Workflow, path string) error {
	defs, err := config.LoadWorkflows(path)
	if err != nil {
		return err
	}

	invalid := 0

	for _, def := range defs {
		if err := service.Validate(def.Workflow); err != nil {
			invalid++

			fmt.Fprintf(w, "FAIL %s (%s): %v\n", def.Source, def.Workflow.Name, err)

			continue
		}

		fmt.Fprintf(w, "ok   %s (%s)\n", def.Source, def.Workflow.Name)
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalidDefinitions, invalid, len(defs))
	}

	return nil
}

func NewImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create or replace workflows from definition files",
		ArgsUsage: "<file-or-directory>",
		Flags:     runtimeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			setupLogging(command)

			path := command.Args().First()
			if path == "" {
				return errMissingPath
			}

			logger := log.WithModule("import")

			rt, err := cmd.NewRuntime(ctx, runtimeConfig(command, "automata-import"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("Failed to close runtime", "error", err)
				}
			}()

			return importDefinitions(ctx, os.Stdout, rt.Workflows, path)
		},
	}
}

// importDefinitions validates every definition first and stores them only when all are valid.
func importDefinitions(ctx context.Context, w io.Writer, service *services.Workflow, path string) error {
	if err := validateDefinitions(io.Discard, service, path); err != nil {
		return err
	}

	defs, err := config.LoadWorkflows(path)
	if err != nil {
		return err
	}

	for _, def := range defs {
		wf, created, err := service.Import(ctx, def.Workflow)
		if err != nil {
			return fmt.Errorf("%s: %w", def.Source, err)
		}

		action := "updated"
		if created {
			action = "created"
		}

		fmt.Fprintf(w, "%s %s %s (%s)\n", action, wf.ID, wf.Name, wf.Status)
	}

	return nil
}
