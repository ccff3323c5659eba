// Package analyze provides the file replay command.
package analyze

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/analysis"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

type options struct {
	format     string
	outputPath string
	syncAfter  bool
}

// Command creates a command that replays a recording through the engine.
func Command(settings *conf.Settings) *cobra.Command {
	opts := options{format: "table", syncAfter: true}

	cmd := &cobra.Command{
		Use:   "analyze [input.wav|input.flac]",
		Short: "Analyze an audio file window by window",
		Long: "Replay a WAV or FLAC recording through the hybrid engine. Stereo " +
			"recordings get a bearing per window when bearing estimation is enabled. " +
			"Offline detections are queued for delivery to the remote store.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings, &opts, args[0])
		},
	}

	setupFlags(cmd, settings, &opts)
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *options) {
	cmd.Flags().StringVarP(&opts.format, "output", "o", opts.format, "Output format: table, csv or json")
	cmd.Flags().StringVar(&opts.outputPath, "output-file", "", "Write results to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.syncAfter, "sync", opts.syncAfter, "Run a sync pass after the analysis when online")
	cmd.Flags().BoolVar(&settings.Bearing.Enabled, "bearing", settings.Bearing.Enabled, "Estimate a bearing for stereo recordings")
	cmd.Flags().Float64Var(&settings.Analysis.Overlap, "overlap", settings.Analysis.Overlap, "Seconds shared by consecutive windows")
}

func run(cmd *cobra.Command, settings *conf.Settings, opts *options, path string) error {
	ctx := cmd.Context()

	svc, err := analysis.NewServices(ctx, settings)
	if err != nil {
		return err
	}
	defer svc.Close()

	var out io.Writer = cmd.OutOrStdout()
	if opts.outputPath != "" {
		f, err := os.Create(opts.outputPath)
		if err != nil {
			return errors.New(err).
				Component("analyze").
				Category(errors.CategoryFileIO).
				Context("path", opts.outputPath).
				Build()
		}
		defer f.Close()
		out = f
	}

	if err := svc.AnalyzeFile(ctx, path, opts.format, out); err != nil {
		return err
	}

	pending := svc.Syncer.PendingCount()
	if pending == 0 || !opts.syncAfter {
		return nil
	}
	if !svc.Monitor.IsOnline() {
		fmt.Fprintf(cmd.ErrOrStderr(), "📥 %d detection(s) queued, will sync when online\n", pending)
		return nil
	}
	if err := svc.Syncer.RequestSync(ctx); err != nil {
		analysis.GetLogger().Warn("sync after analysis failed", logger.Error(err))
	}
	st := svc.Syncer.Status()
	fmt.Fprintf(cmd.ErrOrStderr(), "🔄 sync %s, %d detection(s) pending\n", st.State, st.PendingCount)
	return nil
}
