// Package main provides the ledgercache CLI: local-only inspection and
// maintenance of the cache store. The remote gateway and any editing
// surface belong to the embedding application, not this tool.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
