package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpointServesCollectors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Sync.SetQueueDepth(3)
	m.Sync.ObserveDelivery("success", 10*time.Millisecond)
	m.Engine.ObserveDetection("offline")

	srv := httptest.NewServer(NewEndpoint(":0", m).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "hybrid_sync_queue_depth 3")
	assert.Contains(t, text, `hybrid_sync_deliveries_total{outcome="success"} 1`)
	assert.Contains(t, text, `hybrid_detections_total{origin="offline"} 1`)
	assert.Contains(t, text, "go_goroutines")
}

func TestNewMetricsUsesPrivateRegistry(t *testing.T) {
	a, err := NewMetrics()
	require.NoError(t, err)
	b, err := NewMetrics()
	require.NoError(t, err)
	assert.NotSame(t, a.Registry(), b.Registry())
}
