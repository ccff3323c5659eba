package queue

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/analysis"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/syncer"
)

// SyncCommand creates a command that runs one manual sync pass.
func SyncCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued detections to the remote store now",
		Long: "Run one sync pass regardless of the auto sync setting. Entries that " +
			"fail stay queued and are retried on the next pass.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := analysis.NewServices(ctx, settings, analysis.WithoutDetection())
			if err != nil {
				return err
			}
			defer svc.Close()

			syncErr := svc.Syncer.RequestSync(ctx)
			printStatus(cmd.OutOrStdout(), svc.Syncer.Status())
			return syncErr
		},
	}
}

func printStatus(w io.Writer, st syncer.Status) {
	fmt.Fprintf(w, "State:    %s\n", st.State)
	fmt.Fprintf(w, "Online:   %t\n", st.Online)
	fmt.Fprintf(w, "Pending:  %d\n", st.PendingCount)
	if !st.LastSyncAt.IsZero() {
		fmt.Fprintf(w, "Last run: %s\n", st.LastSyncAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Error:    %s\n", st.LastError)
	}
}
