/*
main.go - Application entry point

PURPOSE:
  Starts the regen-engine server: loads configuration, opens the SQLite
  store, restores meters from their last checkpoint and serves the HTTP API
  until SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Resolve config (defaults < file < REGEN_* env < flags)
  2. Build the zerolog logger
  3. Open the SQLite store
  4. Restore meters and start the checkpoint scheduler
  5. Serve HTTP

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections, wait for active requests
  2. Stop the checkpoint scheduler
  3. Take one final checkpoint
  4. Stop every meter and close the database

EXAMPLES:
  # Run with file database
  ./server --db ./data/regen.db

  # Run with in-memory database and debug logs
  ./server --db :memory: --log-level debug

  # Load a config file, override the port
  ./server --config regen.toml --port 3000

SEE ALSO:
  - config/config.go: Configuration sources and precedence
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/warp/regen-engine/api"
	"github.com/warp/regen-engine/config"
	"github.com/warp/regen-engine/logging"
	"github.com/warp/regen-engine/meter"
	"github.com/warp/regen-engine/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var configPath string

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve regenerating meters and date utilities over HTTP",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if err := config.Load(&cfg, configPath, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "config file (.toml or .yaml)")
	f.StringVar(&cfg.Host, config.FlagHost, cfg.Host, "listen host")
	f.IntVar(&cfg.Port, config.FlagPort, cfg.Port, "HTTP server port")
	f.StringVar(&cfg.DBPath, config.FlagDB, cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	f.StringVar(&cfg.LogLevel, config.FlagLogLevel, cfg.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.LogFormat, config.FlagLogFormat, cfg.LogFormat, "log format (console or json)")
	f.DurationVar(&cfg.CheckpointInterval, config.FlagCheckpointInterval, cfg.CheckpointInterval, "checkpoint interval (0 disables)")
	f.StringSliceVar(&cfg.AllowedOrigins, config.FlagAllowedOrigins, cfg.AllowedOrigins, "CORS allowed origins")
	f.DurationVar(&cfg.ShutdownTimeout, config.FlagShutdownTimeout, cfg.ShutdownTimeout, "graceful shutdown timeout")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := meter.NewService(store, meter.WithLogger(logger))
	defer svc.Close()

	if _, err := svc.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to restore some meters")
	}

	checkpoints := api.NewCheckpointScheduler(svc, cfg.CheckpointInterval, logger)
	checkpoints.Start()

	handler := api.NewHandler(svc, logger)
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		checkpoints.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdown(server, checkpoints, cfg.ShutdownTimeout, logger)
	return nil
}

func shutdown(server *http.Server, checkpoints *api.CheckpointScheduler, timeout time.Duration, logger zerolog.Logger) {
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	checkpoints.Stop()

	final, cancelFinal := context.WithTimeout(context.Background(), checkpoints.Timeout)
	defer cancelFinal()
	if saved, err := checkpoints.RunNow(final); err == nil {
		logger.Info().Int("saved", saved).Msg("final checkpoint")
	}

	logger.Info().Msg("server stopped")
}
