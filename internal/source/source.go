// Package source provides the detection source adapters: OfflineAdapter runs
// the local classifier and ServerAdapter calls the remote inference service.
// Both return the same shape, ranked and filtered by minimum confidence.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// Window is one mono analysis window handed to the adapters.
type Window struct {
	Samples       []float32
	SampleRate    int
	CapturedAt    time.Time
	Location      *detection.Location
	MinConfidence float64 // from the config snapshot taken when the window started
}

// Adapter detects species in one window.
type Adapter interface {
	Detect(ctx context.Context, w Window) ([]detection.RawDetection, error)
}

// LocalRuntime is the on-device classifier.
type LocalRuntime interface {
	Ready() bool
	Infer(ctx context.Context, samples []float32, sampleRate int) ([]detection.Prediction, error)
}

// CommonNamer is implemented by runtimes that carry a label table.
type CommonNamer interface {
	CommonName(scientific string) string
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the source package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("source")
	})
	return serviceLogger
}
