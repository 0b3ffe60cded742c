package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/simdash/simdash/internal/archive"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			jsonOut, _ := cmd.Flags().GetBool("json")

			store, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.Sessions()
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(sessions)
			}
			for _, id := range sessions {
				steps, err := store.Steps(id)
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					fmt.Printf("%s  (empty)\n", id)
					continue
				}
				fmt.Printf("%s  %d snapshots, steps [%d,%d]\n",
					id, len(steps), steps[0], steps[len(steps)-1])
			}
			return nil
		},
	}

	cmd.Flags().String("db", "simdash.db", "Path to the snapshot archive database")
	return cmd
}
