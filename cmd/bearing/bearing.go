// Package bearing provides the stereo bearing command.
package bearing

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/analysis"
	"github.com/tphakala/birdnet-hybrid/internal/bearing"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
)

// Command creates a command that prints a bearing estimate per window.
func Command(settings *conf.Settings) *cobra.Command {
	format := "table"

	cmd := &cobra.Command{
		Use:   "bearing [input.wav|input.flac]",
		Short: "Estimate the direction of arrival for each window of a stereo recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			est, err := bearing.New(bearing.ConfigFrom(&settings.Bearing))
			if err != nil {
				return err
			}
			rows, err := analysis.BearingAnalysis(cmd.Context(), est, args[0],
				settings.Analysis.WindowSeconds, settings.Analysis.Overlap)
			if err != nil {
				return err
			}
			return analysis.WriteBearings(cmd.OutOrStdout(), format, rows)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", format, "Output format: table or json")
	cmd.Flags().Float64Var(&settings.Analysis.Overlap, "overlap", settings.Analysis.Overlap, "Seconds shared by consecutive windows")
	cmd.Flags().Float64Var(&settings.Bearing.MicSeparation, "mic-separation", settings.Bearing.MicSeparation, "Distance between the capsules in metres")
	return cmd
}
