// Package metrics provides the Prometheus collectors for the hybrid engine.
// All recording methods are safe to call on a nil receiver, so components can
// run without a registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SyncStates lists every state label exported by SyncMetrics.
var SyncStates = []string{"idle", "syncing", "error_backoff"}

// SyncMetrics contains the metrics of the sync state machine.
type SyncMetrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	QueueDepth       prometheus.Gauge
	State            *prometheus.GaugeVec
	LastSyncTime     prometheus.Gauge
}

// NewSyncMetrics creates and registers the sync metrics.
func NewSyncMetrics(registry prometheus.Registerer) (*SyncMetrics, error) {
	m := &SyncMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hybrid_sync_deliveries_total",
			Help: "Delivery attempts to the remote store by outcome",
		}, []string{"outcome"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hybrid_sync_delivery_duration_seconds",
			Help:    "Duration of single delivery attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybrid_sync_queue_depth",
			Help: "Detections waiting for delivery",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hybrid_sync_state",
			Help: "Current sync state (1 for the active state)",
		}, []string{"state"}),
		LastSyncTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hybrid_sync_last_success_timestamp_seconds",
			Help: "Time of the last sync pass without failures",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

// ObserveDelivery records one delivery attempt.
func (m *SyncMetrics) ObserveDelivery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.Observe(elapsed.Seconds())
}

// SetQueueDepth updates the pending entry count.
func (m *SyncMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetState marks state as the active one.
func (m *SyncMetrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range SyncStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// MarkSynced records a completed pass.
func (m *SyncMetrics) MarkSynced(at time.Time) {
	if m == nil {
		return
	}
	m.LastSyncTime.Set(float64(at.Unix()))
}

// Describe implements the prometheus.Collector interface.
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Deliveries.Describe(ch)
	ch <- m.DeliveryDuration.Desc()
	ch <- m.QueueDepth.Desc()
	m.State.Describe(ch)
	ch <- m.LastSyncTime.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Deliveries.Collect(ch)
	ch <- m.DeliveryDuration
	ch <- m.QueueDepth
	m.State.Collect(ch)
	ch <- m.LastSyncTime
}
