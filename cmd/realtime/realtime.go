// Package realtime provides the long-running sync service command.
package realtime

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/analysis"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
)

// Command creates a command that keeps the station connected to the remote
// store until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Run connectivity monitoring and background sync",
		Long: "Probe connectivity, deliver queued offline detections on the sync timer " +
			"and serve Prometheus metrics until SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

func run(ctx context.Context, settings *conf.Settings) error {
	svc, err := analysis.NewServices(ctx, settings, analysis.WithoutDetection())
	if err != nil {
		return err
	}
	defer svc.Close()
	return svc.Run(ctx)
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", settings.Metrics.Enabled, "Enable Prometheus metrics endpoint")
	cmd.Flags().StringVar(&settings.Metrics.Listen, "listen", settings.Metrics.Listen, "Listen address and port of the metrics endpoint")
	cmd.Flags().StringVar(&settings.Network.ProbeURL, "probe-url", settings.Network.ProbeURL, "URL used to check connectivity")
	cmd.Flags().DurationVar(&settings.Network.ProbeInterval, "probe-interval", settings.Network.ProbeInterval, "Connectivity check period")
}
