// Command storectl runs the store monitoring service: the HTTP API, the
// hourly ingest scheduler, and the stale-report janitor, or any of them
// standalone for operational one-offs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "Store monitoring uptime/downtime reporting service",
	Long: `storectl serves the store monitoring API: it ingests periodic
store-status CSV drops, computes rolling uptime/downtime reports per
store, and serves them over HTTP with a single-flight report cache.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
