package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the cache state machine and report the outcome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := sqlite.NewStore(cfg, nil)
		state, err := store.Verify(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("cache is %s\n", state)
		return nil
	},
}
