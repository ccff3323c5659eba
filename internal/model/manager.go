// Package model tracks the lifecycle of offline classifier artifacts: which
// models are present in the model directory, downloading new ones with
// progress reporting, and keeping at most one of them loaded in the runtime.
package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/observability/metrics"
)

// State of a model artifact.
type State string

const (
	StateNotDownloaded State = "not_downloaded"
	StateDownloading   State = "downloading"
	StateDownloaded    State = "downloaded"
	StateLoaded        State = "loaded"
)

const (
	artifactExt = ".tflite"
	partialExt  = ".part"
)

// Info describes one model as seen by the manager.
type Info struct {
	ID       string
	State    State
	Progress float64 // download progress in [0,1], meaningful while downloading
	Path     string
}

// Runtime is the inference runtime that models are loaded into.
type Runtime interface {
	Load(path string) error
	Unload()
}

// ProgressFunc receives download progress in [0,1].
type ProgressFunc func(progress float64)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the model package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("model")
	})
	return serviceLogger
}

// Manager owns the model directory. All methods are safe for concurrent use.
type Manager struct {
	dir        string
	runtime    Runtime
	downloader Downloader
	metrics    *metrics.NetworkMetrics
	log        logger.Logger

	mu     sync.Mutex
	models map[string]*Info
	loaded string
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics publishes model readiness.
func WithMetrics(nm *metrics.NetworkMetrics) Option {
	return func(m *Manager) { m.metrics = nm }
}

// NewManager creates a manager for dir and registers every artifact already
// present there as downloaded. Leftover partial downloads are removed.
func NewManager(dir string, rt Runtime, dl Downloader, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.Newf("model directory is not configured").
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if rt == nil {
		return nil, errors.Newf("model runtime is required").
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}

	m := &Manager{
		dir:        dir,
		runtime:    rt,
		downloader: dl,
		log:        GetLogger(),
		models:     make(map[string]*Info),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.discover(); err != nil {
		return nil, err
	}
	m.metrics.SetModelLoaded(false)
	return m, nil
}

func (m *Manager) discover() error {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.New(err).
			Component("model").
			Category(errors.CategoryFileIO).
			Context("dir", m.dir).
			Build()
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch filepath.Ext(name) {
		case artifactExt:
			id := strings.TrimSuffix(name, artifactExt)
			m.models[id] = &Info{ID: id, State: StateDownloaded, Progress: 1, Path: filepath.Join(m.dir, name)}
		case partialExt:
			path := filepath.Join(m.dir, name)
			m.log.Debug("removing stale partial download", logger.String("path", path))
			_ = os.Remove(path)
		}
	}

	if len(m.models) > 0 {
		m.log.Info("discovered offline models", logger.Int("count", len(m.models)))
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return errors.Newf("invalid model id %q", id).
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func (m *Manager) artifactPath(id string) string {
	return filepath.Join(m.dir, id+artifactExt)
}

// DownloadModel fetches id into the model directory. The artifact is written
// to <id>.part and renamed once complete, so a failed or cancelled download
// never leaves a partial artifact behind. Downloading a model that is already
// present is a no-op.
func (m *Manager) DownloadModel(ctx context.Context, id string, onProgress ProgressFunc) error {
	if err := validateID(id); err != nil {
		return err
	}
	if m.downloader == nil {
		return errors.Newf("no model download source configured").
			Component("model").
			Category(errors.CategoryConfiguration).
			Build()
	}

	m.mu.Lock()
	if info, ok := m.models[id]; ok {
		switch info.State {
		case StateDownloading:
			m.mu.Unlock()
			return errors.Newf("download of model %s already in progress", id).
				Component("model").
				Category(errors.CategoryState).
				Build()
		case StateDownloaded, StateLoaded:
			m.mu.Unlock()
			return nil
		}
	}
	m.models[id] = &Info{ID: id, State: StateDownloading}
	m.mu.Unlock()

	start := time.Now()
	log := m.log.With(logger.String("model_id", id))
	log.Info("downloading model")

	if err := m.fetch(ctx, id, func(p float64) {
		p = min(max(p, 0), 1)
		m.mu.Lock()
		if info, ok := m.models[id]; ok && p > info.Progress {
			info.Progress = p
		}
		m.mu.Unlock()
		if onProgress != nil {
			onProgress(p)
		}
	}); err != nil {
		m.mu.Lock()
		delete(m.models, id)
		m.mu.Unlock()
		log.Warn("model download failed", logger.Error(err))
		return err
	}

	m.mu.Lock()
	m.models[id] = &Info{ID: id, State: StateDownloaded, Progress: 1, Path: m.artifactPath(id)}
	m.mu.Unlock()
	if onProgress != nil {
		onProgress(1)
	}
	log.Info("model downloaded", logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Manager) fetch(ctx context.Context, id string, progress ProgressFunc) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return downloadError(err, id)
	}

	partPath := filepath.Join(m.dir, id+partialExt)
	f, err := os.Create(partPath)
	if err != nil {
		return downloadError(err, id)
	}

	dlErr := m.downloader.Download(ctx, id, f, progress)
	closeErr := f.Close()
	if dlErr == nil {
		dlErr = closeErr
	}
	if dlErr != nil {
		_ = os.Remove(partPath)
		return downloadError(dlErr, id)
	}

	if err := os.Rename(partPath, m.artifactPath(id)); err != nil {
		_ = os.Remove(partPath)
		return downloadError(err, id)
	}
	return nil
}

func downloadError(err error, id string) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryDownload).
		Context("model_id", id).
		Build()
}

// LoadModel loads a downloaded model into the runtime, unloading the model
// loaded before it.
func (m *Manager) LoadModel(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.models[id]
	if !ok || (info.State != StateDownloaded && info.State != StateLoaded) {
		return errors.Newf("model %s is not downloaded", id).
			Component("model").
			Category(errors.CategoryModelNotReady).
			Context("model_id", id).
			Build()
	}
	if info.State == StateLoaded {
		return nil
	}

	m.unloadLocked()

	if err := m.runtime.Load(info.Path); err != nil {
		m.log.Error("runtime rejected model", logger.String("model_id", id), logger.Error(err))
		return errors.New(fmt.Errorf("load model %s: %w", id, err)).
			Component("model").
			Category(errors.CategoryModelLoad).
			Context("model_id", id).
			Context("path", info.Path).
			Build()
	}

	info.State = StateLoaded
	m.loaded = id
	m.metrics.SetModelLoaded(true)
	m.log.Info("model loaded", logger.String("model_id", id))
	return nil
}

// UnloadModel releases the loaded model, if any.
func (m *Manager) UnloadModel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadLocked()
}

func (m *Manager) unloadLocked() {
	if m.loaded == "" {
		return
	}
	m.runtime.Unload()
	if info, ok := m.models[m.loaded]; ok {
		info.State = StateDownloaded
	}
	m.log.Debug("model unloaded", logger.String("model_id", m.loaded))
	m.loaded = ""
	m.metrics.SetModelLoaded(false)
}

// State returns the lifecycle information for id. Unknown models are
// reported as not downloaded.
func (m *Manager) State(id string) Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.models[id]; ok {
		return *info
	}
	return Info{ID: id, State: StateNotDownloaded}
}

// Models lists every known model ordered by ID.
func (m *Manager) Models() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.models))
	for _, info := range m.models {
		out = append(out, *info)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// IsReady reports whether a model is loaded.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded != ""
}

// LoadedModel returns the ID of the loaded model, or "".
func (m *Manager) LoadedModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}
