package main

import (
	"github.com/spf13/cobra"

	"github.com/storemon/storemon/internal/fleetreport"
	"github.com/storemon/storemon/internal/janitor"
	"github.com/storemon/storemon/internal/reportbuilder"
	"github.com/storemon/storemon/internal/reportcache"
	"github.com/storemon/storemon/internal/store"
	"github.com/storemon/storemon/internal/totalreport"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Manual report operations",
}

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Trigger a fleet-wide report and wait for it to finish",
	RunE:  runReportGenerate,
}

var reportTotalCmd = &cobra.Command{
	Use:   "total",
	Short: "Generate the full-history total report",
	RunE:  runReportTotal,
}

var reportJanitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Sweep stale in-progress report_cache rows once",
	RunE:  runReportJanitor,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportGenerateCmd)
	reportCmd.AddCommand(reportTotalCmd)
	reportCmd.AddCommand(reportJanitorCmd)
}

func runReportGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	storeReader := store.New(a.pool)
	cacheStore := reportcache.New(a.pool)
	builder := reportbuilder.New(storeReader)
	job := fleetreport.New(storeReader, builder, cacheStore, a.cfg.ReportCacheDir, a.log)

	row, _, err := cacheStore.TriggerOrJoin(ctx)
	if err != nil {
		return err
	}

	if err := job.GenerateForAll(ctx, row.UUID); err != nil {
		return err
	}

	a.log.Info().Str("report_id", row.UUID.String()).Msg("fleet report generated")
	return nil
}

func runReportTotal(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	job := totalreport.New(store.New(a.pool), a.cfg.ReportCacheDir, a.log)
	job.TryGenerate()

	a.log.Info().Str("path", job.ArtifactPath()).Msg("total report generation started")
	return nil
}

func runReportJanitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := janitor.New(reportcache.New(a.pool), a.cfg.ReportCacheDir, a.cfg.ReportTTL, a.log)
	return sweeper.Sweep(ctx)
}
