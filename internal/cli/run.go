package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/database"
	"github.com/staybook/schedulerd/internal/metrics"
)

const dbStatsInterval = 15 * time.Second

var (
	shutdownTimeout time.Duration
	watchConfig     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dispatch loop",
	Long: `Run the dispatch loop until interrupted.

This will:
  1. Settle executions abandoned by a previous process (scheduler.recover_stale)
  2. Poll for due schedules every scheduler.poll_interval and dispatch them
  3. Prune executions older than scheduler.execution_retention
  4. Serve Prometheus metrics when metrics.enabled is set
  5. Reapply logging settings when the config file changes (--watch-config)

On SIGINT or SIGTERM in-flight executions get --shutdown-timeout to finish.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long to wait for in-flight executions on shutdown")
	runCmd.Flags().BoolVar(&watchConfig, "watch-config", true, "reload logging settings when the config file changes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := appConfig

	s, db, err := openScheduler(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = startMetricsServer(cfg.Metrics)
	}
	go reportDBStats(ctx, db)

	if watchConfig {
		if w := startConfigWatcher(ctx); w != nil {
			defer func() { _ = w.Stop() }()
		}
	}

	log.Info().
		Str("database", cfg.Database.Path).
		Dur("poll_interval", cfg.Scheduler.PollInterval).
		Strs("actions", s.Registry.Types()).
		Msg("Scheduler running")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	if err := s.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("In-flight executions did not finish before shutdown timeout")
	}
	return nil
}

func startMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Address).Str("path", cfg.Path).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return srv
}

func reportDBStats(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		metrics.UpdateDBStats(db.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// startConfigWatcher watches the config file in use, if any. Only logging
// settings are reapplied; the rest take effect on restart.
func startConfigWatcher(ctx context.Context) *configWatcher {
	path, err := config.ConfigFilePath(cfgFile)
	if err != nil {
		return nil
	}

	w, err := newConfigWatcher(path, watchDebounce, func(path string) {
		cfg, err := config.Load(config.LoadOptions{ConfigFile: path})
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid config change")
			return
		}
		if err := setupLogging(cfg.Logging); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid logging config")
			return
		}
		log.Info().Str("path", path).Msg("Logging settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to watch config file, continuing without reload")
		return nil
	}

	w.Start(ctx)
	return w
}
