// Command lastecho is the voice combat server and its operator tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/lastecho/internal/app"
	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/internal/observe"
)

// version is overwritten at build time using -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lastecho:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lastecho",
		Short:         "Voice combat server",
		Long:          "lastecho turns shouted keywords and loudness into combat damage for browser clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.Version = version
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(
		newServeCmd(),
		newCalibrateCmd(),
		newResolveCmd(),
	)
	return cmd
}

// loadConfig reads --config. A missing file is fatal only when the flag was
// given explicitly; otherwise the defaults apply.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Parse(nil)
		path = ""
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// ── Serve ─────────────────────────────────────────────────────────────────────

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, path)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, path string) error {
	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("lastecho starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"stt", cfg.STT.Provider,
		"storage", cfg.Storage.Backend,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(parent, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogLevel(level)}
	if path != "" {
		opts = append(opts, app.WithConfigPath(path))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
