// Package syncer owns the durable backlog of offline detections and drives
// their delivery to the remote persistence service.
//
// The machine has three states. It leaves idle for syncing on a timer tick
// (when AutoSync is on) or a manual request, but only while online and with a
// non-empty queue. A pass delivers entries one at a time in enqueue order; an
// entry that fails stays queued with its attempt count bumped and the pass
// continues. A pass with failures ends in error_backoff, which is retried on
// the next tick. Going offline returns the machine to idle after the entry in
// flight completes. Entries are never dropped.
package syncer

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/datastore"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/events"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/netmon"
	"github.com/tphakala/birdnet-hybrid/internal/observability/metrics"
)

// State of the sync machine.
type State string

const (
	StateIdle         State = "idle"
	StateSyncing      State = "syncing"
	StateErrorBackoff State = "error_backoff"
)

// Status is the snapshot published to observers.
type Status struct {
	State        State
	PendingCount int
	LastSyncAt   time.Time
	LastError    string
	Online       bool
}

// Persister delivers one detection to the remote store. It must tolerate
// being called again for an already stored detection.
type Persister interface {
	PersistDetection(ctx context.Context, d *detection.Detection) error
}

// Connectivity is the read side of the network monitor.
type Connectivity interface {
	IsOnline() bool
	Subscribe(buffer int) (<-chan netmon.Status, func())
}

const defaultPersistTimeout = 30 * time.Second

// Option configures a Machine.
type Option func(*Machine)

// WithPersistTimeout bounds each delivery step.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

// WithMetrics records sync metrics.
func WithMetrics(sm *metrics.SyncMetrics) Option {
	return func(m *Machine) { m.metrics = sm }
}

// WithLogger replaces the package logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the sync state machine. Delivery passes are serialized; status
// fields are written only by the machine itself.
type Machine struct {
	store     datastore.Store
	persister Persister
	conn      Connectivity
	config    *conf.EngineConfigHolder

	persistTimeout time.Duration
	metrics        *metrics.SyncMetrics
	now            func() time.Time
	log            logger.Logger

	passMu    sync.Mutex // one delivery pass at a time
	passes    atomic.Uint64
	enqueueMu sync.Mutex // orders Seq assignment with the idempotence check

	mu         sync.Mutex
	state      State
	queued     map[string]struct{}
	nextSeq    uint64
	lastSyncAt time.Time
	lastError  string

	subs    *events.Broadcaster[Status]
	closing atomic.Bool
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the syncer package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("syncer")
	})
	return serviceLogger
}

// New creates a machine and rebuilds the pending set from the store. Entries
// left pending by an interrupted session revert to unsynced.
func New(ctx context.Context, store datastore.Store, persister Persister, conn Connectivity, config *conf.EngineConfigHolder, opts ...Option) (*Machine, error) {
	m := &Machine{
		store:          store,
		persister:      persister,
		conn:           conn,
		config:         config,
		persistTimeout: defaultPersistTimeout,
		now:            time.Now,
		log:            GetLogger(),
		state:          StateIdle,
		queued:         make(map[string]struct{}),
		nextSeq:        1,
		subs:           events.NewBroadcaster[Status](),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.rebuild(ctx); err != nil {
		return nil, err
	}
	m.metrics.SetState(string(StateIdle))
	m.metrics.SetQueueDepth(len(m.queued))
	return m, nil
}

func (m *Machine) rebuild(ctx context.Context) error {
	entries, err := m.store.ListQueueEntries(ctx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		m.nextSeq = max(m.nextSeq, e.Seq+1)

		d, err := m.store.GetDetection(ctx, e.DetectionID)
		switch {
		case errors.IsNotFound(err):
			m.log.Warn("dropping queue entry without detection", logger.String("detection_id", e.DetectionID))
			if err := m.store.DeleteQueueEntry(ctx, e.DetectionID); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		switch d.SyncState {
		case detection.SyncSynced:
			// acknowledged before the entry could be removed
			if err := m.store.CompleteDelivery(ctx, d.ID); err != nil {
				return err
			}
			continue
		case detection.SyncPending:
			if err := m.store.UpdateSyncState(ctx, d.ID, detection.SyncUnsynced); err != nil {
				return err
			}
		}
		m.queued[e.DetectionID] = struct{}{}
	}

	if len(m.queued) > 0 {
		m.log.Info("restored sync backlog", logger.Int("pending", len(m.queued)))
	}
	return nil
}

// Start runs the periodic timer and connectivity handling until Close or ctx
// cancellation. It must be called at most once.
func (m *Machine) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	transitions, unsubscribe := m.conn.Subscribe(4)
	go func() {
		defer close(m.done)
		defer unsubscribe()
		m.run(ctx, transitions)
	}()
}

func (m *Machine) run(ctx context.Context, transitions <-chan netmon.Status) {
	interval := m.config.Snapshot().SyncInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case st, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			m.handleConnectivity(st.Online)
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.log.Warn("sync tick failed", logger.Error(err))
			}
			if next := m.config.Snapshot().SyncInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Machine) handleConnectivity(online bool) {
	if !online && m.Status().State == StateErrorBackoff {
		m.setState(StateIdle)
		return
	}
	// a running pass notices the offline state before its next entry
	m.publish()
}

// Tick handles a timer tick. It starts a pass when AutoSync is on, the device
// is online and the queue is not empty.
func (m *Machine) Tick(ctx context.Context) error {
	if !m.config.Snapshot().AutoSync {
		return nil
	}
	return m.trySync(ctx)
}

// RequestSync runs a pass on demand, regardless of AutoSync. An empty queue
// is a no-op; being offline is reported as a network error.
func (m *Machine) RequestSync(ctx context.Context) error {
	if !m.conn.IsOnline() {
		return errors.Newf("cannot sync while offline").
			Component("syncer").
			Category(errors.CategoryNetwork).
			Build()
	}
	return m.trySync(ctx)
}

func (m *Machine) trySync(ctx context.Context) error {
	if m.closing.Load() || !m.conn.IsOnline() {
		return nil
	}

	m.passMu.Lock()
	defer m.passMu.Unlock()

	if m.PendingCount() == 0 {
		if m.Status().State != StateIdle {
			m.setState(StateIdle)
		}
		return nil
	}
	return m.pass(ctx)
}

// pass delivers every queued entry once, oldest first.
func (m *Machine) pass(ctx context.Context) error {
	ctx = logger.WithTraceID(ctx, "sync-"+strconv.FormatUint(m.passes.Add(1), 10))
	m.setState(StateSyncing)

	entries, err := m.store.ListQueueEntries(ctx)
	if err != nil {
		m.finish(StateErrorBackoff, err.Error(), false)
		return err
	}

	failures, aborted := 0, false
	for _, e := range entries {
		if m.closing.Load() || !m.conn.IsOnline() {
			aborted = true
			break
		}
		if !m.deliver(ctx, e) {
			failures++
		}
	}

	switch {
	case aborted:
		m.log.Info("sync pass interrupted", logger.Int("pending", m.PendingCount()))
		m.finish(StateIdle, "", false)
	case failures > 0:
		m.log.Warn("sync pass finished with failures", logger.Int("failures", failures))
		m.finish(StateErrorBackoff, "", false)
	default:
		m.log.Debug("sync pass complete", logger.Int("delivered", len(entries)))
		m.finish(StateIdle, "", true)
	}
	return nil
}

// deliver runs one delivery step. The step uses a context detached from the
// caller so that shutdown never leaves an entry half delivered.
func (m *Machine) deliver(parent context.Context, e detection.QueueEntry) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.persistTimeout)
	defer cancel()

	log := m.log.WithContext(ctx).With(logger.String("detection_id", e.DetectionID), logger.Uint64("seq", e.Seq))
	start := m.now()

	d, err := m.store.GetDetection(ctx, e.DetectionID)
	if errors.IsNotFound(err) {
		log.Warn("dropping queue entry without detection")
		if err := m.store.DeleteQueueEntry(ctx, e.DetectionID); err != nil {
			return m.fail(ctx, e, err)
		}
		m.dequeue(e.DetectionID)
		return true
	}
	if err != nil {
		return m.fail(ctx, e, err)
	}

	if d.SyncState != detection.SyncSynced {
		if err := m.store.UpdateSyncState(ctx, d.ID, detection.SyncPending); err != nil {
			return m.fail(ctx, e, err)
		}
		d.SyncState = detection.SyncPending
		if err := m.persister.PersistDetection(ctx, d); err != nil {
			m.metrics.ObserveDelivery(metrics.OutcomeFailure, m.now().Sub(start))
			return m.fail(ctx, e, err)
		}
	}

	if err := m.store.CompleteDelivery(ctx, d.ID); err != nil {
		// delivered but not recorded; the next pass repeats an idempotent call
		return m.fail(ctx, e, err)
	}
	m.metrics.ObserveDelivery(metrics.OutcomeSuccess, m.now().Sub(start))
	m.dequeue(d.ID)
	log.Debug("detection synced", logger.Int("attempts", e.AttemptCount+1))
	return true
}

func (m *Machine) fail(ctx context.Context, e detection.QueueEntry, cause error) bool {
	e.AttemptCount++
	e.LastError = cause.Error()
	e.LastAttemptAt = m.now().UTC()

	log := m.log.WithContext(ctx).With(logger.String("detection_id", e.DetectionID), logger.Uint64("seq", e.Seq))
	log.Warn("delivery failed", logger.Int("attempt", e.AttemptCount), logger.Error(cause))

	if err := m.store.PutQueueEntry(ctx, e); err != nil {
		log.Error("failed to record delivery attempt", logger.Error(err))
	}
	if err := m.store.UpdateSyncState(ctx, e.DetectionID, detection.SyncFailed); err != nil && !errors.IsNotFound(err) {
		log.Error("failed to mark detection failed", logger.Error(err))
	}

	m.mu.Lock()
	m.lastError = e.LastError
	m.mu.Unlock()
	return false
}

// Enqueue adds an eligible detection to the backlog. Detections that are
// already queued, already synced or not eligible are ignored.
func (m *Machine) Enqueue(ctx context.Context, d *detection.Detection) error {
	if !d.Eligible() {
		return nil
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	m.mu.Lock()
	_, queued := m.queued[d.ID]
	seq := m.nextSeq
	m.mu.Unlock()
	if queued {
		return nil
	}

	existing, err := m.store.GetDetection(ctx, d.ID)
	switch {
	case err == nil && existing.SyncState == detection.SyncSynced:
		return nil
	case err != nil && !errors.IsNotFound(err):
		return err
	}

	rec := d.Clone()
	rec.SyncState = detection.SyncUnsynced
	entry := detection.QueueEntry{DetectionID: d.ID, Seq: seq, EnqueuedAt: m.now().UTC()}
	if err := m.store.Enqueue(ctx, rec, entry); err != nil {
		return err
	}

	m.mu.Lock()
	m.nextSeq = seq + 1
	m.queued[d.ID] = struct{}{}
	pending := len(m.queued)
	m.mu.Unlock()

	m.metrics.SetQueueDepth(pending)
	m.publish()
	return nil
}

func (m *Machine) dequeue(id string) {
	m.mu.Lock()
	delete(m.queued, id)
	pending := len(m.queued)
	m.mu.Unlock()
	m.metrics.SetQueueDepth(pending)
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.metrics.SetState(string(s))
	m.publish()
}

// finish ends a pass. A clean pass clears the last error and stamps LastSyncAt.
func (m *Machine) finish(s State, lastError string, clean bool) {
	now := m.now().UTC()
	m.mu.Lock()
	m.state = s
	if lastError != "" {
		m.lastError = lastError
	}
	if clean {
		m.lastSyncAt = now
		m.lastError = ""
	}
	m.mu.Unlock()

	if clean {
		m.metrics.MarkSynced(now)
	}
	m.metrics.SetState(string(s))
	m.publish()
}

// Status returns the current snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:        m.state,
		PendingCount: len(m.queued),
		LastSyncAt:   m.lastSyncAt,
		LastError:    m.lastError,
		Online:       m.conn.IsOnline(),
	}
}

// PendingCount returns the number of queued detections.
func (m *Machine) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// Subscribe returns a stream of status snapshots. Slow readers lose the
// oldest snapshots, never the latest.
func (m *Machine) Subscribe(buffer int) (<-chan Status, func()) {
	return m.subs.Subscribe(buffer)
}

func (m *Machine) publish() {
	m.subs.Publish(m.Status())
}

// Close stops the timer, waits for an in-flight delivery step to finish and
// closes subscriber channels. Queued entries stay in the store.
func (m *Machine) Close() {
	if !m.closing.CompareAndSwap(false, true) {
		return
	}
	close(m.stop)
	if m.started.Load() {
		<-m.done
	}
	// wait for a pass started by RequestSync
	m.passMu.Lock()
	defer m.passMu.Unlock()
	m.subs.Close()
}
