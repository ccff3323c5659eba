package analysis

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/persist"
	"github.com/tphakala/birdnet-hybrid/internal/syncer"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	cfg := conf.DefaultEngineConfig()
	return &conf.Settings{
		Engine: conf.EngineSettings{
			AutoSync:       cfg.AutoSync,
			SyncIntervalMs: cfg.SyncIntervalMs,
			MinConfidence:  cfg.MinConfidence,
			DedupWindowMs:  cfg.DedupWindowMs,
		},
		Bearing:  conf.BearingSettings{Enabled: true},
		Analysis: conf.AnalysisSettings{WindowSeconds: 3, SampleRate: testRate},
		Store: conf.StoreSettings{
			Backend: "badger",
			Badger:  conf.BadgerSettings{InMemory: true},
		},
		Model: conf.ModelSettings{Dir: t.TempDir()},
	}
}

func TestNewServicesWithoutDetection(t *testing.T) {
	t.Parallel()
	s, err := NewServices(t.Context(), testSettings(t), WithoutDetection())
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Store)
	assert.NotNil(t, s.Syncer)
	assert.True(t, s.Monitor.IsOnline(), "no probe URL means online")
	assert.Nil(t, s.Prober)
	assert.Nil(t, s.Engine)
	assert.Nil(t, s.Runtime)
	assert.Equal(t, 0, s.Syncer.PendingCount())

	err = s.AnalyzeFile(t.Context(), "unused.wav", "", &bytes.Buffer{})
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestNewServicesWithDetection(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Model.DefaultID = "BirdNET_GLOBAL_6K_V2.4"
	settings.Location = conf.LocationSettings{Enabled: true, Latitude: 60.17, Longitude: 24.94}

	s, err := NewServices(t.Context(), settings)
	require.NoError(t, err, "a missing default model is not fatal")
	defer s.Close()

	require.NotNil(t, s.Engine)
	require.NotNil(t, s.Models)
	assert.False(t, s.Models.IsReady())
	assert.False(t, s.Runtime.Ready())
	assert.Equal(t, &detection.Location{Latitude: 60.17, Longitude: 24.94}, s.Location())
}

func TestNewServicesProbesConfiguredURL(t *testing.T) {
	t.Parallel()
	settings := testSettings(t)
	settings.Network = conf.NetworkSettings{ProbeURL: "http://127.0.0.1:1/", ProbeTimeout: 200 * time.Millisecond}

	s, err := NewServices(t.Context(), settings, WithoutDetection())
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s.Prober)
	assert.False(t, s.Monitor.IsOnline(), "unreachable probe target")

	trusting, err := NewServices(t.Context(), settings, WithoutDetection(), WithoutProbe())
	require.NoError(t, err)
	defer trusting.Close()
	assert.True(t, trusting.Monitor.IsOnline())
}

func TestNewServicesErrors(t *testing.T) {
	t.Parallel()
	_, err := NewServices(t.Context(), nil)
	require.ErrorIs(t, err, errors.ConfigurationError)

	settings := testSettings(t)
	settings.Store.Backend = "cassandra"
	_, err = NewServices(t.Context(), settings)
	require.ErrorIs(t, err, errors.ConfigurationError)

	settings = testSettings(t)
	settings.Engine.SyncIntervalMs = 0
	_, err = NewServices(t.Context(), settings)
	require.ErrorIs(t, err, errors.ConfigurationError)
}

func TestServicesCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	s, err := NewServices(t.Context(), testSettings(t))
	require.NoError(t, err)
	s.Close()
	assert.NotPanics(t, s.Close)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s, err := NewServices(t.Context(), testSettings(t), WithoutDetection())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.Syncer.Status().State == syncer.StateIdle
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

type fakePersister struct {
	mu     sync.Mutex
	ids    []string
	closed bool
}

func (p *fakePersister) PersistDetection(_ context.Context, d *detection.Detection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, d.ID)
	return nil
}

func (p *fakePersister) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestLazyPersister(t *testing.T) {
	t.Parallel()
	settings := &conf.PersistenceSettings{Backend: "mqtt"}
	fake := &fakePersister{}
	connects := 0
	fail := true
	l := newLazyPersister(settings, func(_ context.Context, s *conf.PersistenceSettings) (persist.Persister, error) {
		assert.Same(t, settings, s)
		connects++
		if fail {
			return nil, errors.Newf("broker unreachable").Category(errors.CategoryNetwork).Build()
		}
		return fake, nil
	})

	require.NoError(t, l.Close(), "closing before first use is a no-op")

	err := l.PersistDetection(t.Context(), &detection.Detection{ID: "det-1"})
	require.ErrorIs(t, err, errors.NetworkError)

	fail = false
	require.NoError(t, l.PersistDetection(t.Context(), &detection.Detection{ID: "det-1"}))
	require.NoError(t, l.PersistDetection(t.Context(), &detection.Detection{ID: "det-2"}))
	assert.Equal(t, 2, connects, "connection is reused after success")
	assert.Equal(t, []string{"det-1", "det-2"}, fake.ids)

	require.NoError(t, l.Close())
	assert.True(t, fake.closed)
}
