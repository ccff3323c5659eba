// Package birdnet runs BirdNET TensorFlow Lite classifiers on mono audio
// windows. A Runtime holds at most one model; the model lifecycle manager
// decides which one.
package birdnet

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/cpuspec"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// DefaultSampleRate is the input rate of the BirdNET GLOBAL models.
const DefaultSampleRate = 48000

// Config controls interpreter creation and score calibration.
type Config struct {
	Threads     int     // 0 picks a count for the host CPU
	Sensitivity float64 // sigmoid sensitivity, BirdNET default 1.0
	LabelPath   string  // overrides the label file next to the model
	SampleRate  int     // rate the model expects
}

// ConfigFrom maps model settings onto a runtime Config.
func ConfigFrom(s *conf.ModelSettings) Config {
	cfg := Config{Sensitivity: 1.0, SampleRate: DefaultSampleRate}
	if s == nil {
		return cfg
	}
	cfg.Threads = s.Threads
	cfg.LabelPath = s.LabelPath
	if s.Sensitivity > 0 {
		cfg.Sensitivity = s.Sensitivity
	}
	return cfg
}

// Runtime wraps a TFLite interpreter. Inference calls are serialized.
type Runtime struct {
	cfg Config

	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputSize   int
	labels      []string
	scientific  []string
	common      map[string]string
	modelPath   string
}

// New creates an empty runtime. Load must succeed before Infer can be used.
func New(cfg Config) *Runtime {
	if cfg.Sensitivity <= 0 {
		cfg.Sensitivity = 1.0
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	return &Runtime{cfg: cfg}
}

// Load replaces the current model with the artifact at path.
func (r *Runtime) Load(path string) error {
	start := time.Now()
	log := GetLogger().With(logger.String("model_path", path))

	if _, err := os.Stat(path); err != nil {
		return loadError(err, path)
	}
	labelPath := r.cfg.LabelPath
	if labelPath == "" {
		labelPath = LabelsPathFor(path)
	}
	labels, err := loadLabelFile(labelPath)
	if err != nil {
		return err
	}

	model := tflite.NewModelFromFile(path)
	if model == nil {
		return loadError(fmt.Errorf("cannot load TensorFlow Lite model"), path)
	}

	threads := cpuspec.GetCPUSpec().ThreadCount(r.cfg.Threads)
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return loadError(fmt.Errorf("cannot create interpreter"), path)
	}
	release := func() {
		interpreter.Delete()
		options.Delete()
		model.Delete()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		release()
		return loadError(fmt.Errorf("tensor allocation failed: %v", status), path)
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input == nil || output == nil {
		release()
		return loadError(fmt.Errorf("model has no input or output tensor"), path)
	}
	if classes := output.Dim(output.NumDims() - 1); classes != len(labels) {
		release()
		return loadError(fmt.Errorf("model has %d classes but %d labels were loaded", classes, len(labels)), path)
	}

	scientific := make([]string, len(labels))
	common := make(map[string]string, len(labels))
	for i, l := range labels {
		sci, com := SplitLabel(l)
		scientific[i] = sci
		if com != "" {
			common[sci] = com
		}
	}

	r.mu.Lock()
	r.releaseLocked()
	r.model, r.options, r.interpreter = model, options, interpreter
	r.inputSize = input.Dim(input.NumDims() - 1)
	r.labels = labels
	r.scientific = scientific
	r.common = common
	r.modelPath = path
	r.mu.Unlock()

	log.Info("BirdNET model initialized",
		logger.Int("labels", len(labels)),
		logger.Int("threads", threads),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

func loadError(err error, path string) error {
	return errors.New(err).
		Component("birdnet").
		Category(errors.CategoryModelLoad).
		Context("model_path", path).
		Build()
}

// Unload releases the interpreter.
func (r *Runtime) Unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Runtime) releaseLocked() {
	if r.interpreter != nil {
		r.interpreter.Delete()
	}
	if r.options != nil {
		r.options.Delete()
	}
	if r.model != nil {
		r.model.Delete()
	}
	r.model, r.options, r.interpreter = nil, nil, nil
	r.labels, r.scientific, r.common = nil, nil, nil
	r.inputSize = 0
	r.modelPath = ""
}

// Ready reports whether a model is loaded.
func (r *Runtime) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interpreter != nil
}

// CommonName returns the common name for a scientific name from the loaded
// label set, or "" when unknown.
func (r *Runtime) CommonName(scientific string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.common[scientific]
}

// Infer classifies one mono window. Shorter windows are zero padded and
// longer ones truncated to the model input size.
func (r *Runtime) Infer(ctx context.Context, samples []float32, sampleRate int) ([]detection.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interpreter == nil {
		return nil, errors.Newf("no BirdNET model loaded").
			Component("birdnet").
			Category(errors.CategoryModelNotReady).
			Build()
	}
	if sampleRate != r.cfg.SampleRate {
		return nil, inferenceError(fmt.Errorf("model expects %d Hz audio, got %d Hz", r.cfg.SampleRate, sampleRate))
	}

	input := r.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, inferenceError(fmt.Errorf("cannot get input tensor"))
	}
	buf := input.Float32s()
	n := copy(buf, samples)
	clear(buf[n:])

	if status := r.interpreter.Invoke(); status != tflite.OK {
		return nil, inferenceError(fmt.Errorf("tensor invoke failed: %v", status))
	}

	raw := extractPredictions(r.interpreter.GetOutputTensor(0))
	return pairPredictions(r.scientific, raw, r.cfg.Sensitivity)
}

func inferenceError(err error) error {
	return errors.New(err).
		Component("birdnet").
		Category(errors.CategoryInference).
		Build()
}

func extractPredictions(tensor *tflite.Tensor) []float32 {
	size := tensor.Dim(tensor.NumDims() - 1)
	out := make([]float32, size)
	copy(out, tensor.Float32s())
	return out
}

// customSigmoid maps a logit to a confidence with sensitivity adjustment.
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}

func pairPredictions(scientific []string, logits []float32, sensitivity float64) ([]detection.Prediction, error) {
	if len(scientific) != len(logits) {
		return nil, inferenceError(fmt.Errorf("label count %d does not match prediction count %d", len(scientific), len(logits)))
	}
	out := make([]detection.Prediction, len(logits))
	for i, x := range logits {
		out[i] = detection.Prediction{
			ScientificName: scientific[i],
			Confidence:     customSigmoid(float64(x), sensitivity),
		}
	}
	return out, nil
}
