package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/logging"
	"github.com/simdash/simdash/internal/mockengine"
)

func newMockEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-engine",
		Short: "Serve the engine protocol on stdio with a built-in toy model",
		Long: `mock-engine speaks the engine side of the wire protocol on
stdin/stdout, backed by a deterministic toy SIR model. It exists so the
client can be exercised without a real simulation backend:

  simdash run   with   engine.command: simdash, engine.args: [mock-engine]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			// stdout carries protocol lines; all logging goes to stderr.
			logger := logging.NewLogger(level, os.Stderr)
			eng := mockengine.New(os.Stdin, os.Stdout, logger)
			return eng.Serve(cmd.Context())
		},
	}

	cmd.Flags().String("log-level", "info", "Log verbosity (info, debug, trace)")
	return cmd
}
