// Command automata runs the CRM workflow automation engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "automata",
		Usage:                 "Run and manage CRM workflow automations",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewWorkerCommand(),
			NewRunCommand(),
			NewValidateCommand(),
			NewImportCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
