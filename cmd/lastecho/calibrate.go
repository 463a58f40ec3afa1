package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/lastecho/internal/app"
	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/internal/mic/local"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/sampler"
	"github.com/MrWong99/lastecho/internal/session"
	"github.com/MrWong99/lastecho/pkg/audio"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure a player's quiet-room baseline from the local microphone",
		Long: `Records the default input device for the calibration window, stores
the rounded mean level as the player's baseline and prints it.

Stay quiet while it runs: the baseline is what attacks are measured against.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			window, _ := cmd.Flags().GetDuration("window")
			rate, _ := cmd.Flags().GetInt("sample-rate")
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Slog()})))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics, err := observe.NewMetrics(noop.NewMeterProvider())
			if err != nil {
				return err
			}
			application, err := app.New(ctx, cfg, app.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = application.Shutdown(sctx)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Measuring for %s, stay quiet...\n", window)
			p, err := measure(ctx, local.New(audio.Format{SampleRate: rate, Channels: 1}), window)
			if err != nil {
				return err
			}
			if err := application.Calibration().Save(ctx, user, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline for %s: %.0f dB (%d samples)\n", user, p.BaselineDB, p.Samples)
			return nil
		},
	}
	cmd.Flags().String("user", "", "player id to store the baseline for")
	cmd.Flags().Duration("window", calibration.DefaultWindow, "measuring window")
	cmd.Flags().Int("sample-rate", 48000, "capture sample rate")
	return cmd
}

// measure listens on host without a recogniser and averages the levels over
// window.
func measure(ctx context.Context, host mic.Host, window time.Duration) (calibration.Profile, error) {
	levels := make(chan float64, 256)
	ctrl := session.NewController(mic.NewManager(host), sampler.NewAudioContext(), stt.None{},
		session.WithLevelObserver(func(s sampler.Sample) {
			select {
			case levels <- s.Level:
			default:
			}
		}),
	)
	defer ctrl.Close()

	if err := ctrl.Start(ctx); err != nil {
		return calibration.Profile{}, err
	}
	p, err := calibration.New(calibration.WithWindow(window)).Measure(ctx, levels)
	ctrl.Stop()
	return p, err
}
