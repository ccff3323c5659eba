package engine

import (
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// StereoWindow is one synchronized two-channel analysis window.
type StereoWindow struct {
	Left       []float32
	Right      []float32
	SampleRate int
	CapturedAt time.Time
	Location   *detection.Location
}

// Validate rejects windows the bearing estimator cannot use. A window with
// only one channel is mono and must go through ProcessMono.
func (w StereoWindow) Validate() error {
	switch {
	case w.SampleRate <= 0:
		return windowError("sample rate must be positive, got %d", w.SampleRate)
	case len(w.Left) == 0 && len(w.Right) == 0:
		return windowError("window has no samples")
	case len(w.Left) == 0 || len(w.Right) == 0:
		return windowError("stereo window is missing a channel")
	case len(w.Left) != len(w.Right):
		return windowError("channel lengths differ: left %d, right %d", len(w.Left), len(w.Right))
	}
	return nil
}

// MonoWindow is a single-channel analysis window. Detections from mono
// windows never carry a bearing.
type MonoWindow struct {
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
	Location   *detection.Location
}

// Validate checks the window shape.
func (w MonoWindow) Validate() error {
	switch {
	case w.SampleRate <= 0:
		return windowError("sample rate must be positive, got %d", w.SampleRate)
	case len(w.Samples) == 0:
		return windowError("window has no samples")
	}
	return nil
}

func windowError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("engine").
		Category(errors.CategoryConfiguration).
		Build()
}
