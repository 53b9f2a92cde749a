package main

import (
	"github.com/spf13/cobra"

	"vizguard/internal/sandbox"
)

// workerCmd is the process the sandbox executor starts for each execution.
var workerCmd = &cobra.Command{
	Use:    sandbox.WorkerCommand,
	Short:  "Sandbox worker (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sandbox.ServeStdio()
	},
}
