// Package analysis wires the engine to its collaborators and drives it from
// recordings or as a long-running sync service.
package analysis

import (
	"sync"

	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the package logger. Thread-safe initialization is
// guaranteed through sync.Once.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("analysis")
	})
	return serviceLogger
}
