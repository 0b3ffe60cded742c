package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/archive"
	"github.com/simdash/simdash/internal/buffer"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an archived session through a fresh ring buffer",
		Long: `Replay feeds the archived snapshots of a session back through a new
ring buffer with the given capacity and downsample interval, then
prints the resulting time series. Useful to preview what a dashboard
with a smaller buffer would have retained.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			sessionID, _ := cmd.Flags().GetString("session")
			field, _ := cmd.Flags().GetString("field")
			capacity, _ := cmd.Flags().GetInt("capacity")
			interval, _ := cmd.Flags().GetInt("interval")

			store, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sessionID, err = resolveSession(store, sessionID)
			if err != nil {
				return err
			}
			records, err := store.Records(sessionID)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("session %s has no archived snapshots", sessionID)
			}

			kept := 0
			ring := buffer.NewSnapshotRing(capacity, buffer.Notify{
				OnStored: func(int) { kept++ },
			})
			ring.SetDownsampleInterval(interval)

			for _, rec := range records {
				ring.Add(rec.Step, rec.Payload)
			}

			minStep, maxStep := ring.StepRange()
			fmt.Printf("session %s: %d archived, %d kept, %d retained, steps [%d,%d]\n",
				sessionID, len(records), kept, ring.Len(), minStep, maxStep)
			for _, p := range ring.TimeSeries(field, minStep, maxStep) {
				fmt.Printf("%6d  %v\n", p.Step, p.Value)
			}
			return nil
		},
	}

	cmd.Flags().String("db", "simdash.db", "Path to the snapshot archive database")
	cmd.Flags().String("session", "", "Session ID to replay (default: most recent)")
	cmd.Flags().String("field", "metrics.population", "Dot path to print as a time series")
	cmd.Flags().Int("capacity", 100, "Ring buffer capacity for the replay")
	cmd.Flags().Int("interval", 1, "Downsample interval for the replay")
	return cmd
}
