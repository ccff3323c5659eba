package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NetworkMetrics tracks connectivity and model lifecycle state.
type NetworkMetrics struct {
	Online      prometheus.Gauge
	Transitions prometheus.Counter
	ModelLoaded prometheus.Gauge
}

// NewNetworkMetrics creates and registers the network metrics.
func NewNetworkMetrics(registry prometheus.Registerer) (*NetworkMetrics, error) {
	m := &NetworkMetrics{
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybrid_network_online",
			Help: "Connectivity (1 online, 0 offline)",
		}),
		Transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hybrid_network_transitions_total",
			Help: "Connectivity transitions observed",
		}),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybrid_offline_model_loaded",
			Help: "Whether an offline model is loaded (1) or not (0)",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register network metrics: %w", err)
	}
	return m, nil
}

// ObserveTransition records a connectivity change.
func (m *NetworkMetrics) ObserveTransition(online bool) {
	if m == nil {
		return
	}
	m.Transitions.Inc()
	m.Online.Set(boolToFloat(online))
}

// SetModelLoaded records the offline model readiness.
func (m *NetworkMetrics) SetModelLoaded(loaded bool) {
	if m == nil {
		return
	}
	m.ModelLoaded.Set(boolToFloat(loaded))
}

// Describe implements the prometheus.Collector interface.
func (m *NetworkMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Online.Desc()
	ch <- m.Transitions.Desc()
	ch <- m.ModelLoaded.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *NetworkMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Online
	ch <- m.Transitions
	ch <- m.ModelLoaded
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
