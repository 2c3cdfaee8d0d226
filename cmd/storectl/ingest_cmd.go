package main

import (
	"github.com/spf13/cobra"

	"github.com/storemon/storemon/internal/ingest"
	"github.com/storemon/storemon/internal/settings"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingest tick: download, clean, and bulk-load the source CSVs",
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := ingest.New(noopDownloader{}, settings.New(a.pool), ingest.PoolLoader{Pool: a.pool}, a.cfg.CSVDir, a.cfg.Debug, a.log)
	return scheduler.Tick(ctx)
}
