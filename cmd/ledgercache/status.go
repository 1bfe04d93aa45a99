package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the recorded cache state without re-verifying",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := sqlite.NewStore(cfg, nil)
		ctx := cmd.Context()

		fmt.Printf("store:      %s\n", cfg.DBPath)
		fmt.Printf("source:     %s/%s\n", cfg.Source.SpreadsheetID, cfg.Source.Worksheet)
		fmt.Printf("state:      %s\n", store.State(ctx))
		if t := store.LastSync(ctx); !t.IsZero() {
			fmt.Printf("last sync:  %s (%s ago)\n",
				t.Format(time.RFC3339), time.Since(t).Round(time.Minute))
		} else {
			fmt.Println("last sync:  never")
		}
		return nil
	},
}
