package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simdash",
		Short: "Simulation dashboard client",
		Long: `simdash drives an external simulation engine over a line-delimited
JSON protocol: it launches (or dials) the engine, manages the session
lifecycle, buffers downsampled snapshots in memory, and archives them
to SQLite for export and replay.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.simdash/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newExportCmd(),
		newReplayCmd(),
		newSessionsCmd(),
		newMockEngineCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadClientConfig loads the client configuration honoring the global
// --config flag.
func loadClientConfig(cmd *cobra.Command) (*config.ClientConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
