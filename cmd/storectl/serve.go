package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/storemon/storemon/internal/cache"
	"github.com/storemon/storemon/internal/fleetreport"
	"github.com/storemon/storemon/internal/httpapi"
	"github.com/storemon/storemon/internal/ingest"
	"github.com/storemon/storemon/internal/janitor"
	"github.com/storemon/storemon/internal/lifecycle"
	"github.com/storemon/storemon/internal/reportbuilder"
	"github.com/storemon/storemon/internal/reportcache"
	"github.com/storemon/storemon/internal/settings"
	"github.com/storemon/storemon/internal/store"
	"github.com/storemon/storemon/internal/totalreport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API plus the background ingest and janitor schedulers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// statusCache builds the status cache lifecycle.Manager polls get_report
// against. Redis is preferred, grounded on the gateway's redisclient
// pattern, since it lets every replica behind a load balancer observe
// the same "still generating" state instead of each one polling
// Postgres independently; if it doesn't answer a ping at startup this
// falls back to the in-process cache rather than refusing to serve.
func (a *app) statusCache() lifecycle.StatusCache {
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		a.log.Warn().Err(err).Str("addr", a.cfg.RedisAddr).Msg("redis unreachable, falling back to in-memory report status cache")
		_ = client.Close()
		return cache.New(5 * time.Second)
	}

	a.log.Info().Str("addr", a.cfg.RedisAddr).Msg("using redis for report status cache")
	return cache.NewRedis(client, 5*time.Second, "report_status")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	storeReader := store.New(a.pool)
	cacheStore := reportcache.New(a.pool)
	settingsStore := settings.New(a.pool)

	builder := reportbuilder.New(storeReader)
	fleetJob := fleetreport.New(storeReader, builder, cacheStore, a.cfg.ReportCacheDir, a.log)
	totalJob := totalreport.New(storeReader, a.cfg.ReportCacheDir, a.log)

	manager := lifecycle.New(cacheStore, fleetJob, a.cfg.ReportCacheDir, a.log).
		WithStatusCache(a.statusCache())

	router := httpapi.New(httpapi.Deps{
		Lifecycle:   manager,
		TotalReport: totalJob,
		Pool:        a.pool,
		Log:         a.log,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := ingest.New(noopDownloader{}, settingsStore, ingest.PoolLoader{Pool: a.pool}, a.cfg.CSVDir, a.cfg.Debug, a.log)
	sweeper := janitor.New(cacheStore, a.cfg.ReportCacheDir, a.cfg.ReportTTL, a.log)

	go scheduler.Run(ctx, time.Hour)
	go sweeper.Run(ctx, a.cfg.ReportTTL)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("error during HTTP shutdown")
		}
	}()

	a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("storectl serving")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
