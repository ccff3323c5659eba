package analysis

import (
	"context"
	"sync"

	"github.com/tphakala/birdnet-hybrid/internal/bearing"
	"github.com/tphakala/birdnet-hybrid/internal/birdnet"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/datastore"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/engine"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/model"
	"github.com/tphakala/birdnet-hybrid/internal/netmon"
	"github.com/tphakala/birdnet-hybrid/internal/observability"
	"github.com/tphakala/birdnet-hybrid/internal/persist"
	"github.com/tphakala/birdnet-hybrid/internal/source"
	"github.com/tphakala/birdnet-hybrid/internal/syncer"
)

// Services is the running set of engine collaborators. Fields that a command
// did not ask for are nil.
type Services struct {
	Settings *conf.Settings
	Config   *conf.EngineConfigHolder
	Metrics  *observability.Metrics
	Monitor  *netmon.Monitor
	Prober   *netmon.Prober // nil when no probe URL is configured
	Store    datastore.Store
	Syncer   *syncer.Machine
	Runtime  *birdnet.Runtime
	Models   *model.Manager // nil when no model directory is configured
	Engine   *engine.Engine

	persister *lazyPersister
	closers   []func()
	closeOnce sync.Once
}

type serviceOptions struct {
	detection bool
	probe     bool
}

// Option selects which services NewServices starts.
type Option func(*serviceOptions)

// WithoutDetection skips the runtime, model manager and engine. Queue
// maintenance commands use it.
func WithoutDetection() Option {
	return func(o *serviceOptions) { o.detection = false }
}

// WithoutProbe trusts the configured probe URL to be reachable instead of
// checking it at startup.
func WithoutProbe() Option {
	return func(o *serviceOptions) { o.probe = false }
}

// NewServices opens the store, rebuilds the sync backlog and, unless told
// otherwise, prepares the detection engine. Everything opened is released by
// Close, also when NewServices fails half way.
func NewServices(ctx context.Context, settings *conf.Settings, opts ...Option) (_ *Services, err error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}
	o := serviceOptions{detection: true, probe: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Services{Settings: settings}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	cfg, err := settings.EngineConfig()
	if err != nil {
		return nil, err
	}
	if s.Config, err = conf.NewEngineConfigHolder(cfg); err != nil {
		return nil, err
	}
	if s.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	s.initNetwork(ctx, o.probe)

	if s.Store, err = datastore.Open(&settings.Store); err != nil {
		return nil, err
	}
	s.onClose(func() {
		if err := s.Store.Close(); err != nil {
			GetLogger().Warn("failed to close store", logger.Error(err))
		}
	})

	s.persister = newLazyPersister(&settings.Persistence, persist.New)
	s.onClose(func() {
		if err := s.persister.Close(); err != nil {
			GetLogger().Warn("failed to close persister", logger.Error(err))
		}
	})

	if s.Syncer, err = syncer.New(ctx, s.Store, s.persister, s.Monitor, s.Config,
		syncer.WithPersistTimeout(settings.Persistence.Timeout),
		syncer.WithMetrics(s.Metrics.Sync)); err != nil {
		return nil, err
	}
	s.onClose(s.Syncer.Close)

	if o.detection {
		if err := s.initDetection(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Services) initNetwork(ctx context.Context, probe bool) {
	network := &s.Settings.Network
	if network.ProbeURL == "" {
		GetLogger().Info("no connectivity probe configured, assuming online")
		s.Monitor = netmon.NewMonitor(true)
		s.onClose(s.Monitor.Close)
		return
	}

	s.Monitor = netmon.NewMonitor(!probe)
	s.onClose(s.Monitor.Close)
	s.Prober = netmon.NewProber(network, s.Monitor)
	if probe {
		online := s.Prober.ProbeOnce(ctx)
		GetLogger().Info("initial connectivity check",
			logger.String("url", network.ProbeURL),
			logger.Bool("online", online))
	}
}

func (s *Services) initDetection() error {
	settings := s.Settings

	s.Runtime = birdnet.New(birdnet.ConfigFrom(&settings.Model))
	s.onClose(s.Runtime.Unload)

	if settings.Model.Dir != "" {
		var dl model.Downloader
		if settings.Model.BaseURL != "" {
			dl = model.NewHTTPDownloader(settings.Model.BaseURL, 0)
		}
		models, err := model.NewManager(settings.Model.Dir, s.Runtime, dl, model.WithMetrics(s.Metrics.Network))
		if err != nil {
			return err
		}
		s.Models = models
		s.loadDefaultModel()
	} else {
		GetLogger().Warn("model directory not configured, offline detection is unavailable")
	}

	est, err := bearing.New(bearing.ConfigFrom(&settings.Bearing))
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{
		engine.WithOffline(source.NewOfflineAdapter(s.Runtime)),
		engine.WithEstimator(est),
		engine.WithQueue(s.Syncer),
		engine.WithMetrics(s.Metrics.Engine),
	}
	if settings.Server.Enabled {
		server, err := source.NewServerAdapter(&settings.Server)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithServer(server))
	}

	if s.Engine, err = engine.New(s.Config, s.Monitor, engineOpts...); err != nil {
		return err
	}
	s.onClose(s.Engine.Close)
	return nil
}

// loadDefaultModel loads the configured model when it is already present.
// A missing model is not fatal: the engine falls back to the server.
func (s *Services) loadDefaultModel() {
	id := s.Settings.Model.DefaultID
	if id == "" {
		return
	}
	if err := s.Models.LoadModel(id); err != nil {
		GetLogger().Warn("default model not loaded, offline detection unavailable until it is",
			logger.String("model_id", id),
			logger.Error(err))
	}
}

// Location returns the station position attached to detections, or nil.
func (s *Services) Location() *detection.Location {
	loc := s.Settings.Location
	if !loc.Enabled {
		return nil
	}
	return &detection.Location{Latitude: loc.Latitude, Longitude: loc.Longitude}
}

func (s *Services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// Close releases every service in reverse start order. It is safe to call
// more than once.
func (s *Services) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	})
}

// lazyPersister connects to the remote store on first use, so commands that
// never deliver anything do not need the broker or server to be up.
type lazyPersister struct {
	settings *conf.PersistenceSettings
	connect  func(context.Context, *conf.PersistenceSettings) (persist.Persister, error)

	mu sync.Mutex
	p  persist.Persister
}

func newLazyPersister(settings *conf.PersistenceSettings, connect func(context.Context, *conf.PersistenceSettings) (persist.Persister, error)) *lazyPersister {
	return &lazyPersister{settings: settings, connect: connect}
}

// PersistDetection implements syncer.Persister.
func (l *lazyPersister) PersistDetection(ctx context.Context, d *detection.Detection) error {
	p, err := l.get(ctx)
	if err != nil {
		return err
	}
	return p.PersistDetection(ctx, d)
}

func (l *lazyPersister) get(ctx context.Context) (persist.Persister, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.p != nil {
		return l.p, nil
	}
	p, err := l.connect(ctx, l.settings)
	if err != nil {
		return nil, err
	}
	l.p = p
	return p, nil
}

// Close closes the underlying persister if one was created.
func (l *lazyPersister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.p == nil {
		return nil
	}
	err := l.p.Close()
	l.p = nil
	return err
}
