// Package model provides the offline model lifecycle commands.
package model

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/birdnet"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/model"
)

// Command creates the model parent command
func Command(settings *conf.Settings) *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Manage offline classifier models",
	}

	modelCmd.AddCommand(
		downloadCommand(settings),
		loadCommand(settings),
		listCommand(settings),
	)
	return modelCmd
}

func newManager(settings *conf.Settings) (*model.Manager, *birdnet.Runtime, error) {
	rt := birdnet.New(birdnet.ConfigFrom(&settings.Model))
	var dl model.Downloader
	if settings.Model.BaseURL != "" {
		dl = model.NewHTTPDownloader(settings.Model.BaseURL, 0)
	}
	m, err := model.NewManager(settings.Model.Dir, rt, dl)
	if err != nil {
		return nil, nil, err
	}
	return m, rt, nil
}

func downloadCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "download [model-id]",
		Short: "Download a model artifact into the model directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, rt, err := newManager(settings)
			if err != nil {
				return err
			}
			defer rt.Unload()

			id := args[0]
			out := cmd.ErrOrStderr()
			err = m.DownloadModel(cmd.Context(), id, func(p float64) {
				fmt.Fprintf(out, "\r\033[K⬇️  %s %3.0f%%", id, p*100)
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ model %s downloaded\n", id)
			return nil
		},
	}
}

func loadCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "load [model-id]",
		Short: "Check that a downloaded model loads into the runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, rt, err := newManager(settings)
			if err != nil {
				return err
			}
			defer m.UnloadModel()

			if err := m.LoadModel(args[0]); err != nil {
				return err
			}
			info := m.State(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "✅ model %s loaded from %s (ready: %t)\n", info.ID, info.Path, rt.Ready())
			return nil
		},
	}
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the models known to the model directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, rt, err := newManager(settings)
			if err != nil {
				return err
			}
			defer rt.Unload()
			return writeModels(cmd.OutOrStdout(), m.Models())
		},
	}
}

func writeModels(w io.Writer, models []model.Info) error {
	if len(models) == 0 {
		_, err := fmt.Fprintln(w, "No models found")
		return err
	}
	if _, err := fmt.Fprint(w, "Model\tState\tPath\n"); err != nil {
		return err
	}
	for _, info := range models {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.State, info.Path); err != nil {
			return err
		}
	}
	return nil
}
