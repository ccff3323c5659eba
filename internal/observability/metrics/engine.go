package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains the per-window pipeline metrics.
type EngineMetrics struct {
	Windows              prometheus.Counter
	WindowErrors         *prometheus.CounterVec
	Detections           *prometheus.CounterVec
	AdapterLatency       *prometheus.HistogramVec
	AdapterErrors        *prometheus.CounterVec
	BearingConfidence    prometheus.Histogram
	BearingIndeterminate prometheus.Counter
}

// NewEngineMetrics creates and registers the engine metrics.
func NewEngineMetrics(registry prometheus.Registerer) (*EngineMetrics, error) {
	m := &EngineMetrics{
		Windows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybrid_windows_processed_total",
			Help: "Audio windows processed",
		}),
		WindowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_window_errors_total",
			Help: "Audio windows aborted by an error, by stage",
		}, []string{"stage"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_detections_total",
			Help: "Emitted detections by origin",
		}, []string{"origin"}),
		AdapterLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hybrid_adapter_latency_seconds",
			Help:    "Detection source call duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_adapter_errors_total",
			Help: "Detection source failures by error category",
		}, []string{"source", "category"}),
		BearingConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybrid_bearing_confidence",
			Help:    "Confidence of determinate bearing estimates",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		BearingIndeterminate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybrid_bearing_indeterminate_total",
			Help: "Windows without directional information",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

// ObserveWindow counts a processed window.
func (m *EngineMetrics) ObserveWindow() {
	if m == nil {
		return
	}
	m.Windows.Inc()
}

// ObserveWindowError counts a window aborted at stage.
func (m *EngineMetrics) ObserveWindowError(stage string) {
	if m == nil {
		return
	}
	m.WindowErrors.WithLabelValues(stage).Inc()
}

// ObserveDetection counts one emitted detection.
func (m *EngineMetrics) ObserveDetection(origin string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(origin).Inc()
}

// ObserveAdapter records a detection source call. An empty category means success.
func (m *EngineMetrics) ObserveAdapter(source string, elapsed time.Duration, category string) {
	if m == nil {
		return
	}
	m.AdapterLatency.WithLabelValues(source).Observe(elapsed.Seconds())
	if category != "" {
		m.AdapterErrors.WithLabelValues(source, category).Inc()
	}
}

// ObserveBearing records an estimate; determinate false counts as indeterminate.
func (m *EngineMetrics) ObserveBearing(determinate bool, confidence float64) {
	if m == nil {
		return
	}
	if !determinate {
		m.BearingIndeterminate.Inc()
		return
	}
	m.BearingConfidence.Observe(confidence)
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Windows.Desc()
	m.WindowErrors.Describe(ch)
	m.Detections.Describe(ch)
	m.AdapterLatency.Describe(ch)
	m.AdapterErrors.Describe(ch)
	ch <- m.BearingConfidence.Desc()
	ch <- m.BearingIndeterminate.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Windows
	m.WindowErrors.Collect(ch)
	m.Detections.Collect(ch)
	m.AdapterLatency.Collect(ch)
	m.AdapterErrors.Collect(ch)
	ch <- m.BearingConfidence
	ch <- m.BearingIndeterminate
}
