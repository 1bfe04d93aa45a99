package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/ledgercache/pkg/ledger"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgercache version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ledgercache", ledger.Version)
	},
}
