// Package observation formats detections from a file replay for output.
package observation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// Note is one detection placed on the recording timeline.
type Note struct {
	ID             string           `json:"id"`
	InputFile      string           `json:"inputFile"`
	BeginTime      float64          `json:"beginTime"` // seconds from the start of the recording
	EndTime        float64          `json:"endTime"`
	ScientificName string           `json:"scientificName"`
	CommonName     string           `json:"commonName"`
	Confidence     float64          `json:"confidence"`
	Origin         detection.Origin `json:"origin"`
	BearingDegrees *float64         `json:"bearingDegrees,omitempty"`
	BearingConf    *float64         `json:"bearingConfidence,omitempty"`
}

// NewNote places d on the timeline of inputFile.
func NewNote(inputFile string, d *detection.Detection, begin, end time.Duration) Note {
	n := Note{
		ID:             d.ID,
		InputFile:      inputFile,
		BeginTime:      begin.Seconds(),
		EndTime:        end.Seconds(),
		ScientificName: d.ScientificName,
		CommonName:     d.CommonName,
		Confidence:     d.Confidence,
		Origin:         d.Origin,
	}
	if d.Bearing != nil {
		angle, conf := d.Bearing.AngleDegrees, d.Bearing.Confidence
		n.BearingDegrees, n.BearingConf = &angle, &conf
	}
	return n
}

// Supported output formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Write writes notes in the named format. An empty format means table.
func Write(w io.Writer, format string, notes []Note) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		return WriteNotesTable(w, notes)
	case FormatCSV:
		return WriteNotesCSV(w, notes)
	case FormatJSON:
		return WriteNotesJSON(w, notes)
	default:
		return errors.Newf("unsupported output format %q", format).
			Component("observation").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// WriteNotesTable writes a Raven selection table with origin and bearing columns.
func WriteNotesTable(w io.Writer, notes []Note) error {
	header := "Selection\tView\tChannel\tBegin File\tBegin Time (s)\tEnd Time (s)\tLow Freq (Hz)\tHigh Freq (Hz)\tCommon Name\tScientific Name\tConfidence\tOrigin\tBearing (deg)\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, note := range notes {
		line := fmt.Sprintf("%d\tSpectrogram 1\t1\t%s\t%.1f\t%.1f\t0\t15000\t%s\t%s\t%.4f\t%s\t%s\n",
			i+1, note.InputFile, note.BeginTime, note.EndTime, note.CommonName, note.ScientificName,
			note.Confidence, note.Origin, formatOptional(note.BearingDegrees, 1))
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("failed to write note: %w", err)
		}
	}
	return nil
}

// WriteNotesCSV writes notes as CSV.
func WriteNotesCSV(w io.Writer, notes []Note) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Start (s)", "End (s)", "Scientific name", "Common name", "Confidence", "Origin", "Bearing (deg)", "Bearing confidence"}); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}
	for _, note := range notes {
		record := []string{
			strconv.FormatFloat(note.BeginTime, 'f', 1, 64),
			strconv.FormatFloat(note.EndTime, 'f', 1, 64),
			note.ScientificName,
			note.CommonName,
			strconv.FormatFloat(note.Confidence, 'f', 4, 64),
			string(note.Origin),
			formatOptional(note.BearingDegrees, 1),
			formatOptional(note.BearingConf, 2),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write note to CSV: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNotesJSON writes notes as a JSON array.
func WriteNotesJSON(w io.Writer, notes []Note) error {
	if notes == nil {
		notes = []Note{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(notes); err != nil {
		return fmt.Errorf("failed to encode notes: %w", err)
	}
	return nil
}

func formatOptional(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
