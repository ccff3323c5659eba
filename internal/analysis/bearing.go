package analysis

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tphakala/birdnet-hybrid/internal/bearing"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/myaudio"
	"github.com/tphakala/birdnet-hybrid/internal/observation"
)

// BearingRow is the direction estimate for one window of a recording.
type BearingRow struct {
	BeginTime    float64 `json:"beginTime"`
	EndTime      float64 `json:"endTime"`
	Determinate  bool    `json:"determinate"`
	AngleDegrees float64 `json:"angleDegrees"`
	Confidence   float64 `json:"confidence"`
	ITDDegrees   float64 `json:"itdDegrees"`
	ITDConf      float64 `json:"itdConfidence"`
	ILDDegrees   float64 `json:"ildDegrees"`
	ILDConf      float64 `json:"ildConfidence"`
	LagSamples   float64 `json:"lagSamples"`
}

// BearingAnalysis estimates a bearing for every window of a stereo recording.
// No detection source is involved.
func BearingAnalysis(ctx context.Context, est *bearing.Estimator, path string, windowSeconds, overlap float64) ([]BearingRow, error) {
	if err := validateAudioFile(path); err != nil {
		return nil, err
	}
	info, err := myaudio.ReadInfo(path)
	if err != nil {
		return nil, err
	}
	if info.NumChannels != 2 {
		return nil, errors.Newf("bearing estimation needs a stereo recording, %s has %d channel(s)", path, info.NumChannels).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}

	windowLength := time.Duration(windowSeconds * float64(time.Second))
	var rows []BearingRow
	_, err = myaudio.ReadFile(ctx, path, windowSeconds, overlap, func(f myaudio.Frame) error {
		e, err := est.Estimate(f.Left(), f.Right(), f.SampleRate)
		if err != nil {
			return err
		}
		rows = append(rows, BearingRow{
			BeginTime:    f.Offset.Seconds(),
			EndTime:      (f.Offset + windowLength).Seconds(),
			Determinate:  e.Determinate,
			AngleDegrees: e.AngleDegrees,
			Confidence:   e.Confidence,
			ITDDegrees:   e.ITD.AngleDegrees,
			ITDConf:      e.ITD.Confidence,
			ILDDegrees:   e.ILD.AngleDegrees,
			ILDConf:      e.ILD.Confidence,
			LagSamples:   e.LagSamples,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error estimating bearing: %w", err)
	}
	return rows, nil
}

// WriteBearings writes rows as a tab separated table or as JSON.
func WriteBearings(w io.Writer, format string, rows []BearingRow) error {
	switch strings.ToLower(format) {
	case "", observation.FormatTable:
		return writeBearingTable(w, rows)
	case observation.FormatJSON:
		if rows == nil {
			rows = []BearingRow{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	default:
		return errors.Newf("unsupported bearing output format %q", format).
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func writeBearingTable(w io.Writer, rows []BearingRow) error {
	if _, err := fmt.Fprint(w, "Begin Time (s)\tEnd Time (s)\tBearing (deg)\tConfidence\tITD (deg)\tILD (deg)\tLag (samples)\n"); err != nil {
		return err
	}
	for _, r := range rows {
		angle := "-"
		if r.Determinate {
			angle = fmt.Sprintf("%.1f", r.AngleDegrees)
		}
		if _, err := fmt.Fprintf(w, "%.1f\t%.1f\t%s\t%.2f\t%.1f\t%.1f\t%.2f\n",
			r.BeginTime, r.EndTime, angle, r.Confidence, r.ITDDegrees, r.ILDDegrees, r.LagSamples); err != nil {
			return err
		}
	}
	return nil
}
