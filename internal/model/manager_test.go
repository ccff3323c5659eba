package model

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/observability/metrics"
)

type fakeRuntime struct {
	mu      sync.Mutex
	loaded  string
	loads   []string
	unloads int
	reject  map[string]bool
}

func (r *fakeRuntime) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, path)
	if r.reject[filepath.Base(path)] {
		return errors.NewStd("not a tflite flatbuffer")
	}
	r.loaded = path
	return nil
}

func (r *fakeRuntime) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloads++
	r.loaded = ""
}

// fakeDownloader writes payload in chunks, reporting progress after each,
// and fails afterwards when err is set.
type fakeDownloader struct {
	payload []byte
	chunks  int
	err     error
	hook    func()
}

func (d *fakeDownloader) Download(_ context.Context, _ string, w io.Writer, progress ProgressFunc) error {
	chunks := max(d.chunks, 1)
	size := (len(d.payload) + chunks - 1) / chunks
	for i := 0; i < len(d.payload); i += size {
		end := min(i+size, len(d.payload))
		if _, err := w.Write(d.payload[i:end]); err != nil {
			return err
		}
		if progress != nil {
			progress(float64(end) / float64(len(d.payload)))
		}
		if d.hook != nil {
			d.hook()
		}
	}
	return d.err
}

func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("model"), 0o600))
}

func TestNewManagerDiscoversArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeArtifact(t, dir, "birdnet-v24.tflite")
	writeArtifact(t, dir, "perch.tflite")
	writeArtifact(t, dir, "broken.part")
	writeArtifact(t, dir, "birdnet-v24_labels.txt")

	m, err := NewManager(dir, &fakeRuntime{}, nil)
	require.NoError(t, err)

	models := m.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "birdnet-v24", models[0].ID)
	assert.Equal(t, StateDownloaded, models[0].State)
	assert.Equal(t, "perch", models[1].ID)
	assert.Equal(t, StateNotDownloaded, m.State("other").State)
	assert.NoFileExists(t, filepath.Join(dir, "broken.part"))
	assert.False(t, m.IsReady())
}

func TestNewManagerMissingDirectory(t *testing.T) {
	t.Parallel()
	m, err := NewManager(filepath.Join(t.TempDir(), "models"), &fakeRuntime{}, nil)
	require.NoError(t, err)
	assert.Empty(t, m.Models())

	_, err = NewManager("", &fakeRuntime{}, nil)
	assert.ErrorIs(t, err, errors.ConfigurationError)
}

func TestNewManagerRequiresRuntime(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir(), nil, nil)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, errors.ConfigurationError)
}

func TestDownloadModelReportsProgress(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dl := &fakeDownloader{payload: make([]byte, 4096), chunks: 4}

	m, err := NewManager(dir, &fakeRuntime{}, dl)
	require.NoError(t, err)

	// observe the state while the transfer is running
	var during []Info
	dl.hook = func() { during = append(during, m.State("birdnet")) }

	var progress []float64
	require.NoError(t, m.DownloadModel(context.Background(), "birdnet", func(p float64) {
		progress = append(progress, p)
	}))

	require.NotEmpty(t, progress)
	assert.IsNonDecreasing(t, progress)
	assert.InDelta(t, 1.0, progress[len(progress)-1], 1e-9)
	for _, info := range during {
		assert.Equal(t, StateDownloading, info.State)
	}
	assert.InDelta(t, 0.25, during[0].Progress, 1e-9)

	info := m.State("birdnet")
	assert.Equal(t, StateDownloaded, info.State)
	assert.FileExists(t, filepath.Join(dir, "birdnet.tflite"))
	assert.NoFileExists(t, filepath.Join(dir, "birdnet.part"))

	// already present
	dl.err = errors.NewStd("should not be called")
	require.NoError(t, m.DownloadModel(context.Background(), "birdnet", nil))
}

func TestDownloadModelFailureCleansUp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dl := &fakeDownloader{payload: make([]byte, 1024), chunks: 2, err: errors.NewStd("connection reset")}

	m, err := NewManager(dir, &fakeRuntime{}, dl)
	require.NoError(t, err)

	err = m.DownloadModel(context.Background(), "birdnet", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.DownloadError)
	assert.Equal(t, StateNotDownloaded, m.State("birdnet").State)
	assert.NoFileExists(t, filepath.Join(dir, "birdnet.part"))
	assert.NoFileExists(t, filepath.Join(dir, "birdnet.tflite"))

	err = m.LoadModel("birdnet")
	assert.ErrorIs(t, err, errors.ModelNotReady)
}

func TestDownloadModelRejectsBadInput(t *testing.T) {
	t.Parallel()
	m, err := NewManager(t.TempDir(), &fakeRuntime{}, nil)
	require.NoError(t, err)

	err = m.DownloadModel(context.Background(), "birdnet", nil)
	assert.ErrorIs(t, err, errors.ConfigurationError, "no downloader")

	for _, id := range []string{"", "../etc", `a\b`, ".."} {
		assert.ErrorIs(t, m.LoadModel(id), errors.ConfigurationError, id)
	}
}

func TestLoadModelKeepsOneModelLoaded(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeArtifact(t, dir, "a.tflite")
	writeArtifact(t, dir, "b.tflite")
	rt := &fakeRuntime{}

	nm, err := metrics.NewNetworkMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m, err := NewManager(dir, rt, nil, WithMetrics(nm))
	require.NoError(t, err)

	require.NoError(t, m.LoadModel("a"))
	assert.True(t, m.IsReady())
	assert.Equal(t, "a", m.LoadedModel())
	assert.Equal(t, StateLoaded, m.State("a").State)
	assert.InDelta(t, 1, testutil.ToFloat64(nm.ModelLoaded), 0)

	// loading the same model again does not reload it
	require.NoError(t, m.LoadModel("a"))
	assert.Len(t, rt.loads, 1)

	require.NoError(t, m.LoadModel("b"))
	assert.Equal(t, "b", m.LoadedModel())
	assert.Equal(t, StateDownloaded, m.State("a").State)
	assert.Equal(t, StateLoaded, m.State("b").State)
	assert.Equal(t, 1, rt.unloads)

	m.UnloadModel()
	assert.False(t, m.IsReady())
	assert.Equal(t, StateDownloaded, m.State("b").State)
	assert.InDelta(t, 0, testutil.ToFloat64(nm.ModelLoaded), 0)
}

func TestLoadModelRuntimeRejects(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeArtifact(t, dir, "good.tflite")
	writeArtifact(t, dir, "corrupt.tflite")
	rt := &fakeRuntime{reject: map[string]bool{"corrupt.tflite": true}}

	m, err := NewManager(dir, rt, nil)
	require.NoError(t, err)
	require.NoError(t, m.LoadModel("good"))

	err = m.LoadModel("corrupt")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.LoadError)
	assert.True(t, errors.IsRecoverable(err))
	assert.False(t, m.IsReady(), "previous model was unloaded before the attempt")
	assert.Equal(t, StateDownloaded, m.State("corrupt").State)

	err = m.LoadModel("missing")
	assert.ErrorIs(t, err, errors.ModelNotReady)
}

func TestHTTPDownloader(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	d := NewHTTPDownloader("https://models.example.org/birdnet/", 0)
	transport := httpmock.NewMockTransport()
	d.HTTPClient.Transport = transport

	transport.RegisterResponder(http.MethodGet, "https://models.example.org/birdnet/v24.tflite",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewBytesResponse(http.StatusOK, payload)
			resp.ContentLength = int64(len(payload))
			return resp, nil
		})
	transport.RegisterResponder(http.MethodGet, "https://models.example.org/birdnet/missing.tflite",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))
	transport.RegisterResponder(http.MethodGet, "https://models.example.org/birdnet/flaky.tflite",
		httpmock.NewErrorResponder(errors.NewStd("dial tcp: connection refused")))

	dir := t.TempDir()
	m, err := NewManager(dir, &fakeRuntime{}, d)
	require.NoError(t, err)

	var last float64
	require.NoError(t, m.DownloadModel(context.Background(), "v24", func(p float64) { last = p }))
	assert.InDelta(t, 1.0, last, 1e-9)
	got, err := os.ReadFile(filepath.Join(dir, "v24.tflite"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	for _, id := range []string{"missing", "flaky"} {
		err := m.DownloadModel(context.Background(), id, nil)
		require.Error(t, err, id)
		assert.True(t, errors.IsCategory(err, errors.CategoryDownload), id)
		assert.Equal(t, StateNotDownloaded, m.State(id).State)
	}
	assert.Equal(t, 3, transport.GetTotalCallCount())
}
