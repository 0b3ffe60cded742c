package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/archive"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived snapshots or time series",
		Long: `Export reads the SQLite snapshot archive and writes either a numeric
time series (--field, as CSV or JSON) or the full snapshot documents
(JSONL) for one session.

Example:
  simdash export --db sim.db --field metrics.population --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			sessionID, _ := cmd.Flags().GetString("session")
			field, _ := cmd.Flags().GetString("field")
			format, _ := cmd.Flags().GetString("format")

			store, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sessionID, err = resolveSession(store, sessionID)
			if err != nil {
				return err
			}

			if field == "" {
				return exportSnapshots(store, sessionID)
			}
			return exportSeries(store, sessionID, field, format)
		},
	}

	cmd.Flags().String("db", "simdash.db", "Path to the snapshot archive database")
	cmd.Flags().String("session", "", "Session ID to export (default: most recent)")
	cmd.Flags().String("field", "", "Dot path to export as a time series (e.g. metrics.population)")
	cmd.Flags().String("format", "csv", "Series output format: csv or json")
	return cmd
}

// resolveSession defaults to the most recently started session.
func resolveSession(store *archive.Store, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	sessions, err := store.Sessions()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("archive contains no sessions")
	}
	return sessions[len(sessions)-1], nil
}

func exportSnapshots(store *archive.Store, sessionID string) error {
	records, err := store.Records(sessionID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, rec := range records {
		doc := map[string]any{
			"session":  rec.Session,
			"step":     rec.Step,
			"kind":     rec.Kind,
			"snapshot": rec.Payload,
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}

func exportSeries(store *archive.Store, sessionID, field, format string) error {
	points, err := store.Series(sessionID, field)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		return json.NewEncoder(os.Stdout).Encode(points)
	case "csv":
		w := csv.NewWriter(os.Stdout)
		if err := w.Write([]string{"step", field}); err != nil {
			return err
		}
		for _, p := range points {
			row := []string{
				strconv.Itoa(p.Step),
				strconv.FormatFloat(p.Value, 'g', -1, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	default:
		return fmt.Errorf("unknown format %q (valid: csv, json)", format)
	}
}
