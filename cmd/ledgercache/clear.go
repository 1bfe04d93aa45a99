package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgercache/internal/sqlite"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the local cache store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := sqlite.NewStore(cfg, nil)
		if err := store.Delete(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("cache store removed")
		return nil
	},
}
