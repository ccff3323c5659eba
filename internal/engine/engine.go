// Package engine runs the per-window pipeline: bearing estimation and both
// detection sources in parallel, fusion of the two result lists, emission of
// the fused detections and hand-off of offline results to the sync machine.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/birdnet-hybrid/internal/bearing"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/events"
	"github.com/tphakala/birdnet-hybrid/internal/fusion"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/myaudio"
	"github.com/tphakala/birdnet-hybrid/internal/observability/metrics"
	"github.com/tphakala/birdnet-hybrid/internal/source"
)

// Source labels used in logs and metrics.
const (
	SourceOffline = "offline"
	SourceServer  = "server"
)

// Connectivity is the read side of the network monitor.
type Connectivity interface {
	IsOnline() bool
}

// Queue accepts detections for delivery to the remote store.
type Queue interface {
	Enqueue(ctx context.Context, d *detection.Detection) error
}

// Result describes one processed window. Adapter errors are fallbacks, not
// failures: the window is fused from whatever source answered.
type Result struct {
	CapturedAt time.Time
	Detections []*detection.Detection
	Bearing    *bearing.Estimate // nil for mono windows
	OfflineErr error
	ServerErr  error
}

// Emission is published to subscribers for every processed window.
type Emission struct {
	CapturedAt time.Time
	Detections []*detection.Detection
}

// Option configures an Engine.
type Option func(*Engine)

// WithOffline sets the on-device detection source.
func WithOffline(a source.Adapter) Option {
	return func(e *Engine) { e.offline = a }
}

// WithServer sets the remote detection source. It is consulted only while online.
func WithServer(a source.Adapter) Option {
	return func(e *Engine) { e.server = a }
}

// WithEstimator replaces the default bearing estimator.
func WithEstimator(est *bearing.Estimator) Option {
	return func(e *Engine) { e.estimator = est }
}

// WithQueue hands eligible detections to q, normally the sync machine.
func WithQueue(q Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithMetrics enables pipeline metrics.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIDGenerator overrides detection ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// Engine processes windows one at a time.
type Engine struct {
	config    *conf.EngineConfigHolder
	conn      Connectivity
	offline   source.Adapter
	server    source.Adapter
	estimator *bearing.Estimator
	queue     Queue
	metrics   *metrics.EngineMetrics
	newID     func() string
	log       logger.Logger

	mu           sync.Mutex // serializes windows
	lastCaptured time.Time

	subs *events.Broadcaster[Emission]
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the engine package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("engine")
	})
	return serviceLogger
}

// New creates an engine. At least one detection source is required.
func New(config *conf.EngineConfigHolder, conn Connectivity, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: config,
		conn:   conn,
		log:    GetLogger(),
		subs:   events.NewBroadcaster[Emission](),
	}
	for _, opt := range opts {
		opt(e)
	}

	if config == nil || conn == nil {
		return nil, errors.Newf("engine needs a configuration holder and a connectivity source").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if e.offline == nil && e.server == nil {
		return nil, errors.Newf("engine needs at least one detection source").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if e.estimator == nil {
		est, err := bearing.New(bearing.DefaultConfig())
		if err != nil {
			return nil, err
		}
		e.estimator = est
	}
	return e, nil
}

// ProcessWindow estimates the bearing and runs both sources on the downmixed
// window, then fuses, emits and enqueues the results.
func (e *Engine) ProcessWindow(ctx context.Context, w StereoWindow) (Result, error) {
	if err := w.Validate(); err != nil {
		e.metrics.ObserveWindowError("validate")
		return Result{}, err
	}
	mono := myaudio.Downmix([][]float32{w.Left, w.Right})
	return e.process(ctx, window{
		samples:    mono,
		sampleRate: w.SampleRate,
		capturedAt: w.CapturedAt,
		location:   w.Location,
		left:       w.Left,
		right:      w.Right,
	})
}

// ProcessMono runs both sources on a single-channel window. No bearing is
// estimated.
func (e *Engine) ProcessMono(ctx context.Context, w MonoWindow) (Result, error) {
	if err := w.Validate(); err != nil {
		e.metrics.ObserveWindowError("validate")
		return Result{}, err
	}
	return e.process(ctx, window{
		samples:    w.Samples,
		sampleRate: w.SampleRate,
		capturedAt: w.CapturedAt,
		location:   w.Location,
	})
}

type window struct {
	samples     []float32
	sampleRate  int
	capturedAt  time.Time
	location    *detection.Location
	left, right []float32 // nil for mono
}

func (e *Engine) process(ctx context.Context, w window) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.config.Snapshot()
	if w.capturedAt.IsZero() {
		w.capturedAt = time.Now()
	}
	w.capturedAt = w.capturedAt.UTC()
	if w.capturedAt.Before(e.lastCaptured) {
		e.metrics.ObserveWindowError("validate")
		return Result{}, errors.Newf("window captured at %s precedes the previous window", w.capturedAt.Format(time.RFC3339Nano)).
			Component("engine").
			Category(errors.CategoryValidation).
			Context("previous", e.lastCaptured).
			Build()
	}

	res := Result{CapturedAt: w.capturedAt}
	sw := source.Window{
		Samples:       w.samples,
		SampleRate:    w.sampleRate,
		CapturedAt:    w.capturedAt,
		Location:      w.location,
		MinConfidence: cfg.MinConfidence,
	}
	useServer := e.server != nil && e.conn.IsOnline()

	var offlineRaw, serverRaw []detection.RawDetection
	g, gctx := errgroup.WithContext(ctx)
	if w.left != nil {
		g.Go(func() error {
			est, err := e.estimator.Estimate(w.left, w.right, w.sampleRate)
			if err != nil {
				return err
			}
			e.metrics.ObserveBearing(est.Determinate, est.Confidence)
			res.Bearing = &est
			return nil
		})
	}
	if e.offline != nil {
		g.Go(func() error {
			offlineRaw, res.OfflineErr = e.detect(gctx, SourceOffline, e.offline, sw)
			return nil
		})
	}
	if useServer {
		g.Go(func() error {
			serverRaw, res.ServerErr = e.detect(gctx, SourceServer, e.server, sw)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.ObserveWindowError("bearing")
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var dir *detection.Bearing
	if res.Bearing != nil {
		dir = res.Bearing.Bearing()
	}
	policy := fusion.PolicyFrom(cfg)
	policy.NewID = e.newID
	res.Detections = fusion.Fuse(fusion.Window{
		CapturedAt: w.capturedAt,
		Location:   w.location,
		Bearing:    dir,
	}, serverRaw, offlineRaw, policy)
	e.lastCaptured = w.capturedAt

	e.metrics.ObserveWindow()
	for _, d := range res.Detections {
		e.metrics.ObserveDetection(string(d.Origin))
	}
	e.log.Debug("window processed",
		logger.Int("detections", len(res.Detections)),
		logger.Bool("server", useServer),
		logger.Bool("bearing", dir != nil))

	e.emit(res)
	if err := e.enqueue(ctx, res.Detections); err != nil {
		e.metrics.ObserveWindowError("enqueue")
		return res, err
	}
	return res, nil
}

// detect calls one source and classifies its failure.
func (e *Engine) detect(ctx context.Context, name string, a source.Adapter, w source.Window) ([]detection.RawDetection, error) {
	start := time.Now()
	raw, err := a.Detect(ctx, w)
	elapsed := time.Since(start)
	if err != nil {
		category := errors.CategoryOf(err)
		e.metrics.ObserveAdapter(name, elapsed, string(category))
		if category == errors.CategoryModelNotReady {
			e.log.Debug("detection source not ready", logger.String("source", name))
		} else {
			e.log.Warn("detection source failed, continuing without it",
				logger.String("source", name),
				logger.String("category", string(category)),
				logger.Error(err))
		}
		return nil, err
	}
	e.metrics.ObserveAdapter(name, elapsed, "")
	return raw, nil
}

func (e *Engine) emit(res Result) {
	out := make([]*detection.Detection, len(res.Detections))
	for i, d := range res.Detections {
		out[i] = d.Clone()
	}
	e.subs.Publish(Emission{CapturedAt: res.CapturedAt, Detections: out})
}

// enqueue hands every eligible detection to the queue. A failed enqueue does
// not stop the rest.
func (e *Engine) enqueue(ctx context.Context, dets []*detection.Detection) error {
	if e.queue == nil {
		return nil
	}
	var errs []error
	for _, d := range dets {
		if !d.Eligible() {
			continue
		}
		if err := e.queue.Enqueue(ctx, d); err != nil {
			e.log.Error("failed to enqueue detection for sync",
				logger.String("detection_id", d.ID),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe returns the stream of processed windows. Slow readers lose the
// oldest emissions.
func (e *Engine) Subscribe(buffer int) (<-chan Emission, func()) {
	return e.subs.Subscribe(buffer)
}

// Close ends every subscription.
func (e *Engine) Close() {
	e.subs.Close()
}
