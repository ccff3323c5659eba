package datastore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the datastore package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("datastore")
	})
	return serviceLogger
}

// badgerLogger routes BadgerDB internals into the datastore logger.
type badgerLogger struct {
	log logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.log.Error(trimmed(format, args))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.log.Warn(trimmed(format, args))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.log.Debug(trimmed(format, args))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.log.Trace(trimmed(format, args))
}

func trimmed(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
