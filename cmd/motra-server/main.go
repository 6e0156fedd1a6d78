// Package main is the entry point for the motra-server binary. It loads the
// CapCon queue, starts the scheduler bridge, and serves one session per
// WebSocket connection.
//
// Startup/shutdown follows server/cmd/server/main.go's shape: build a single
// *http.Server, run it in a goroutine, and wait for ctx cancellation to
// trigger a graceful Shutdown.
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/config"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/logging"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/schedbridge"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/serverqueue"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "motra-server",
		Short: "MOTRA server — dispenses capture configurations over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("MOTRA_SERVER_CONFIG", "server.json"), "Path to the server configuration file")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("MOTRA_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("motra-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cli *cliConfig) error {
	logger, err := logging.Build(cli.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadServer(cli.configPath)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}

	logger.Info("starting motra-server",
		zap.String("version", version),
		zap.String("server_id", cfg.ServerID),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("capcon_dir", cfg.CapConDir),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	queue, err := serverqueue.Load(cfg.CapConDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load CapCon queue: %w", err)
	}

	bridge := schedbridge.New(logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", session.Handler(session.Config{
		ServerID:   cfg.ServerID,
		ArchiveDir: cfg.ArchiveDir,
		LiveDir:    cfg.WorkDir,
		Queue:      queue,
		Bridge:     bridge,
		Logger:     logger,
	}))

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down motra-server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("motra-server stopped")
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
