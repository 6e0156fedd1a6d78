// Package main is the entry point for the motra-client binary. It wires
// config, logging, workspace, scheduler bridge, and the client state machine
// together and drives one reconnect/upload/test cycle to completion.
//
// Startup sequence follows agent/cmd/agent/main.go's shape: parse flags,
// build the logger, install signal handling, construct dependencies, run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/clientfsm"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/config"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/logging"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/schedbridge"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/workspace"
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
		Use:   "motra-client",
		Short: "MOTRA client — connects to a MOTRA server and runs one capture cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("MOTRA_CLIENT_CONFIG", "client.json"), "Path to the client configuration file")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("MOTRA_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("motra-client %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cli *cliConfig) error {
	logger, err := logging.Build(cli.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadClient(cli.configPath)
	if err != nil {
		return fmt.Errorf("failed to load client config: %w", err)
	}

	logger.Info("starting motra-client",
		zap.String("version", version),
		zap.String("client_id", cfg.ClientID),
		zap.String("server_addr", cfg.ServerAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ws := workspace.New(cfg.WorkspaceDir)
	if err := ws.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to prepare workspace: %w", err)
	}

	bridge := schedbridge.New(logger)

	machine := clientfsm.New(clientfsm.Config{
		ClientID:   cfg.ClientID,
		ServerAddr: cfg.ServerAddr,
		RetryTime:  cfg.RetryTime,
		RetryLimit: cfg.RetryLimit,
		Workspace:  ws,
		Bridge:     bridge,
		Logger:     logger,
	})

	code, err := machine.Run(ctx)
	if err != nil {
		logger.Error("motra-client exiting", zap.Error(err))
	}
	os.Exit(code)
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
