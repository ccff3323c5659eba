package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/cmd/analyze"
	"github.com/tphakala/birdnet-hybrid/cmd/bearing"
	"github.com/tphakala/birdnet-hybrid/cmd/model"
	"github.com/tphakala/birdnet-hybrid/cmd/queue"
	"github.com/tphakala/birdnet-hybrid/cmd/realtime"
	"github.com/tphakala/birdnet-hybrid/internal/buildinfo"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

var centralLogger *logger.CentralLogger

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "birdnet-hybrid",
		Short:         "BirdNET hybrid detection and synchronization engine",
		Version:       fmt.Sprintf("%s (built %s)", info.GetVersion(), info.GetBuildDate()),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	// Add sub-commands to the root command.
	subcommands := []*cobra.Command{
		analyze.Command(settings),
		bearing.Command(settings),
		queue.Command(settings),
		queue.SyncCommand(settings),
		model.Command(settings),
		realtime.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("latitude") || cmd.Flags().Changed("longitude") {
			settings.Location.Enabled = true
		}
		return initialize(settings, info)
	}

	return rootCmd
}

// initialize is called before any subcommand runs, after flags have been
// applied to settings. It validates the result and sets up logging and
// error telemetry.
func initialize(settings *conf.Settings, info *buildinfo.Context) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	centralLogger = cl

	if settings.Sentry.Enabled {
		if dirs, err := conf.GetDefaultConfigPaths(); err == nil && len(dirs) > 0 {
			if _, err := info.LoadSystemID(dirs[0]); err != nil {
				cl.Module("main").Warn("failed to load system ID", logger.Error(err))
			}
		}
	}
	if err := telemetry.InitSentry(&settings.Sentry, info); err != nil {
		// telemetry must never stop the engine
		cl.Module("main").Warn("error telemetry disabled", logger.Error(err))
	}
	return nil
}

// Shutdown flushes pending telemetry and closes log files.
func Shutdown() {
	telemetry.Flush(telemetryFlushTimeout)
	if centralLogger != nil {
		_ = centralLogger.Close()
	}
}

// setupFlags defines flags that are global to the command line interface.
// Defaults come from the loaded configuration, so flags only override what
// the user passes explicitly.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")
	flags.BoolVar(&settings.Engine.PreferServer, "prefer-server", settings.Engine.PreferServer, "Treat remote inference results as authoritative when online")
	flags.BoolVar(&settings.Engine.AutoSync, "auto-sync", settings.Engine.AutoSync, "Deliver queued offline detections on the sync timer")
	flags.Float64VarP(&settings.Engine.MinConfidence, "min-confidence", "t", settings.Engine.MinConfidence, "Minimum confidence for detections, value between 0.0 and 1.0")
	flags.IntVar(&settings.Engine.SyncIntervalMs, "sync-interval", settings.Engine.SyncIntervalMs, "Sync timer period in milliseconds")
	flags.IntVar(&settings.Engine.DedupWindowMs, "dedup-window", settings.Engine.DedupWindowMs, "Maximum timestamp distance in milliseconds for merging server and offline results")
	flags.Float64Var(&settings.Location.Latitude, "latitude", settings.Location.Latitude, "Station latitude attached to detections")
	flags.Float64Var(&settings.Location.Longitude, "longitude", settings.Location.Longitude, "Station longitude attached to detections")
	flags.StringVar(&settings.Store.Backend, "store", settings.Store.Backend, "Local queue store backend (sqlite, mysql, badger)")
	flags.StringVar(&settings.Model.Dir, "model-dir", settings.Model.Dir, "Directory holding offline model artifacts")
	flags.StringVar(&settings.Server.URL, "server-url", settings.Server.URL, "Remote inference service base URL")
}
