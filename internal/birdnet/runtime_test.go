package birdnet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

func TestSplitLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		label, sci, common string
	}{
		{"Turdus merula_Eurasian Blackbird", "Turdus merula", "Eurasian Blackbird"},
		{"Parus major_Great Tit_gretit1", "Parus major", "Great Tit"},
		{"Engine", "Engine", ""},
		{" Dog_Dog ", "Dog", "Dog"},
	}
	for _, tt := range tests {
		sci, common := SplitLabel(tt.label)
		assert.Equal(t, tt.sci, sci, tt.label)
		assert.Equal(t, tt.common, common, tt.label)
	}
}

func TestReadLabelsSkipsBlankLines(t *testing.T) {
	t.Parallel()
	labels, err := ReadLabels(strings.NewReader("Turdus merula_Eurasian Blackbird\n\n  \nParus major_Great Tit\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Turdus merula_Eurasian Blackbird", "Parus major_Great Tit"}, labels)
}

func TestLabelsPathFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/models/birdnet-v24_labels.txt", LabelsPathFor("/models/birdnet-v24.tflite"))
}

func TestCustomSigmoid(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.5, customSigmoid(0, 1), 1e-12)
	assert.Greater(t, customSigmoid(2, 1.5), customSigmoid(2, 1.0), "higher sensitivity sharpens positive logits")
	assert.Less(t, customSigmoid(-2, 1.5), customSigmoid(-2, 1.0))
}

func TestPairPredictions(t *testing.T) {
	t.Parallel()
	preds, err := pairPredictions([]string{"Turdus merula", "Parus major"}, []float32{3, -3}, 1)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "Turdus merula", preds[0].ScientificName)
	assert.InDelta(t, 0.9526, preds[0].Confidence, 1e-4)
	assert.InDelta(t, 0.0474, preds[1].Confidence, 1e-4)

	_, err = pairPredictions([]string{"Turdus merula"}, []float32{1, 2}, 1)
	assert.ErrorIs(t, err, errors.InferenceError)
}

func TestInferWithoutModel(t *testing.T) {
	t.Parallel()
	r := New(Config{})
	assert.False(t, r.Ready())
	assert.Empty(t, r.CommonName("Turdus merula"))

	_, err := r.Infer(context.Background(), make([]float32, 10), DefaultSampleRate)
	assert.ErrorIs(t, err, errors.ModelNotReady)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Infer(ctx, nil, DefaultSampleRate)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRejectsMissingArtifacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := New(Config{})

	err := r.Load(filepath.Join(dir, "missing.tflite"))
	assert.ErrorIs(t, err, errors.LoadError)

	// model present, labels missing
	modelPath := filepath.Join(dir, "birdnet.tflite")
	require.NoError(t, os.WriteFile(modelPath, []byte("not a flatbuffer"), 0o600))
	err = r.Load(modelPath)
	assert.ErrorIs(t, err, errors.LoadError)

	// empty label file
	require.NoError(t, os.WriteFile(LabelsPathFor(modelPath), []byte("\n"), 0o600))
	err = r.Load(modelPath)
	assert.ErrorIs(t, err, errors.LoadError)
	assert.False(t, r.Ready())
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()
	cfg := ConfigFrom(&conf.ModelSettings{Threads: 2, Sensitivity: 1.25, LabelPath: "/etc/labels.txt"})
	assert.Equal(t, Config{Threads: 2, Sensitivity: 1.25, LabelPath: "/etc/labels.txt", SampleRate: DefaultSampleRate}, cfg)

	def := ConfigFrom(nil)
	assert.InDelta(t, 1.0, def.Sensitivity, 0)
	assert.Equal(t, DefaultSampleRate, def.SampleRate)
}
