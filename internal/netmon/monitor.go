// Package netmon tracks process-wide connectivity. The online flag has a
// single writer, HandleTransition, and any number of readers; transitions are
// published to subscribers as Status snapshots.
package netmon

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/events"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// Status is one connectivity snapshot.
type Status struct {
	Online bool
	Since  time.Time
}

// Monitor holds the connectivity state.
type Monitor struct {
	online atomic.Bool
	since  atomic.Int64 // unix nanos of the last transition

	mu   sync.Mutex // serializes transitions so subscribers see them in order
	subs *events.Broadcaster[Status]
	now  func() time.Time
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the netmon package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("netmon")
	})
	return serviceLogger
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initiallyOnline bool) *Monitor {
	m := &Monitor{subs: events.NewBroadcaster[Status](), now: time.Now}
	m.online.Store(initiallyOnline)
	m.since.Store(m.now().UnixNano())
	return m
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	return Status{Online: m.online.Load(), Since: time.Unix(0, m.since.Load())}
}

// HandleTransition records an observation of the network state and reports
// whether it changed anything. Repeated observations of the same state are
// ignored and not published.
func (m *Monitor) HandleTransition(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online.Load() == online {
		return false
	}
	now := m.now()
	m.since.Store(now.UnixNano())
	m.online.Store(online)

	GetLogger().Info("connectivity changed", logger.Bool("online", online))
	m.subs.Publish(Status{Online: online, Since: now})
	return true
}

// Subscribe returns a channel receiving every transition. The cancel function
// unsubscribes and closes the channel.
func (m *Monitor) Subscribe(buffer int) (<-chan Status, func()) {
	return m.subs.Subscribe(buffer)
}

// Close closes all subscriber channels.
func (m *Monitor) Close() {
	m.subs.Close()
}
