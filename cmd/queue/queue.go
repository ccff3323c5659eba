// Package queue provides commands that inspect and drain the sync backlog.
package queue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tphakala/birdnet-hybrid/internal/analysis"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/datastore"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// Entry is one queued detection as printed by the queue command.
type Entry struct {
	Seq            uint64    `json:"seq"`
	DetectionID    string    `json:"detectionId"`
	ScientificName string    `json:"scientificName"`
	Confidence     float64   `json:"confidence"`
	Origin         string    `json:"origin"`
	SyncState      string    `json:"syncState"`
	Timestamp      time.Time `json:"timestamp"`
	AttemptCount   int       `json:"attemptCount"`
	LastError      string    `json:"lastError,omitempty"`
}

// Command creates the queue listing command.
func Command(settings *conf.Settings) *cobra.Command {
	format := "table"

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List detections waiting for delivery to the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := analysis.NewServices(ctx, settings, analysis.WithoutDetection(), analysis.WithoutProbe())
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := List(ctx, svc.Store)
			if err != nil {
				return err
			}
			return Write(cmd.OutOrStdout(), format, entries)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", format, "Output format: table or json")
	return cmd
}

// List joins the queue entries with their detections in delivery order.
func List(ctx context.Context, store datastore.Store) ([]Entry, error) {
	queued, err := store.ListQueueEntries(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(queued))
	for _, q := range queued {
		e := Entry{
			Seq:          q.Seq,
			DetectionID:  q.DetectionID,
			AttemptCount: q.AttemptCount,
			LastError:    q.LastError,
		}
		d, err := store.GetDetection(ctx, q.DetectionID)
		switch {
		case errors.IsNotFound(err):
			e.SyncState = "missing"
		case err != nil:
			return nil, err
		default:
			fillDetection(&e, d)
		}
		out = append(out, e)
	}
	return out, nil
}

func fillDetection(e *Entry, d *detection.Detection) {
	e.ScientificName = d.ScientificName
	e.Confidence = d.Confidence
	e.Origin = string(d.Origin)
	e.SyncState = string(d.SyncState)
	e.Timestamp = d.Timestamp
}

// Write prints entries as a tab separated table or as JSON.
func Write(w io.Writer, format string, entries []Entry) error {
	switch strings.ToLower(format) {
	case "", "table":
		if _, err := fmt.Fprint(w, "Seq\tDetection\tSpecies\tConfidence\tOrigin\tState\tTimestamp\tAttempts\tLast Error\n"); err != nil {
			return err
		}
		for _, e := range entries {
			ts := ""
			if !e.Timestamp.IsZero() {
				ts = e.Timestamp.UTC().Format(time.RFC3339)
			}
			if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%s\t%s\t%s\t%d\t%s\n",
				e.Seq, e.DetectionID, e.ScientificName, e.Confidence, e.Origin, e.SyncState, ts, e.AttemptCount, e.LastError); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	default:
		return errors.Newf("unsupported queue output format %q", format).
			Component("queue").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
