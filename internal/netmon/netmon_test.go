package netmon

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
	os.Exit(m.Run())
}

const probeURL = "https://probe.example.org/health"

func TestHandleTransitionPublishesChangesOnly(t *testing.T) {
	t.Parallel()
	m := NewMonitor(false)
	ch, cancel := m.Subscribe(8)
	defer cancel()

	assert.False(t, m.HandleTransition(false), "no change")
	assert.True(t, m.HandleTransition(true))
	assert.False(t, m.HandleTransition(true))
	assert.True(t, m.HandleTransition(false))

	first := <-ch
	second := <-ch
	assert.True(t, first.Online)
	assert.False(t, second.Online)
	assert.Empty(t, ch)
	assert.False(t, m.IsOnline())
	assert.False(t, second.Since.Before(first.Since))
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	m := NewMonitor(false)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 1000 {
				_ = m.IsOnline()
				_ = m.Status()
			}
		})
	}
	for i := range 100 {
		m.HandleTransition(i%2 == 0)
	}
	wg.Wait()
}

func TestMonitorClose(t *testing.T) {
	t.Parallel()
	m := NewMonitor(true)
	ch, _ := m.Subscribe(1)
	m.Close()
	_, ok := <-ch
	assert.False(t, ok)
}

func newTestProber(t *testing.T, m *Monitor) *Prober {
	t.Helper()
	p := NewProber(&conf.NetworkSettings{ProbeURL: probeURL, ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second}, m)
	httpmock.ActivateNonDefault(p.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return p
}

func TestProbeOnce(t *testing.T) {
	m := NewMonitor(false)
	p := newTestProber(t, m)

	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	assert.True(t, p.ProbeOnce(context.Background()), "any HTTP answer means reachable")
	assert.True(t, m.IsOnline())

	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewErrorResponder(errors.NewStd("no route to host")))
	assert.False(t, p.ProbeOnce(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProbeCancelledKeepsState(t *testing.T) {
	m := NewMonitor(true)
	p := newTestProber(t, m)
	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewErrorResponder(context.Canceled))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, p.ProbeOnce(ctx))
	assert.True(t, m.IsOnline())
}

func TestProberRunStopsOnCancel(t *testing.T) {
	m := NewMonitor(false)
	p := newTestProber(t, m)
	httpmock.RegisterResponder(http.MethodHead, probeURL, httpmock.NewStringResponder(http.StatusOK, ""))

	ch, unsubscribe := m.Subscribe(1)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case st := <-ch:
		assert.True(t, st.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prober did not stop")
	}
	require.GreaterOrEqual(t, httpmock.GetTotalCallCount(), 1)
}
