package source

import (
	"context"

	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// OfflineAdapter classifies windows with the local model runtime.
type OfflineAdapter struct {
	runtime LocalRuntime
}

// NewOfflineAdapter wraps rt.
func NewOfflineAdapter(rt LocalRuntime) *OfflineAdapter {
	return &OfflineAdapter{runtime: rt}
}

// Detect implements Adapter. It fails with a model-not-ready error when no
// model is loaded and with an inference error when the runtime fails.
func (a *OfflineAdapter) Detect(ctx context.Context, w Window) ([]detection.RawDetection, error) {
	if a.runtime == nil || !a.runtime.Ready() {
		return nil, errors.Newf("offline model is not loaded").
			Component("source.offline").
			Category(errors.CategoryModelNotReady).
			Build()
	}

	preds, err := a.runtime.Infer(ctx, w.Samples, w.SampleRate)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryModelNotReady) || ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.New(err).
			Component("source.offline").
			Category(errors.CategoryInference).
			Context("sample_rate", w.SampleRate).
			Build()
	}

	namer, _ := a.runtime.(CommonNamer)
	raw := make([]detection.RawDetection, 0, len(preds))
	for _, p := range preds {
		if p.Confidence < w.MinConfidence {
			continue
		}
		common := ""
		if namer != nil {
			common = namer.CommonName(p.ScientificName)
		}
		if common == "" {
			common = p.ScientificName
		}
		raw = append(raw, detection.RawDetection{
			CommonName:     common,
			ScientificName: p.ScientificName,
			Confidence:     p.Confidence,
			Timestamp:      w.CapturedAt,
		})
	}
	return detection.FilterAndSort(raw, w.MinConfidence), nil
}
