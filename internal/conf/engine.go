package conf

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

// EngineConfig is an immutable snapshot of the engine policy. Operations
// capture a snapshot when they start and use it until they finish.
type EngineConfig struct {
	PreferServer   bool
	AutoSync       bool
	SyncIntervalMs int     // > 0
	MinConfidence  float64 // [0, 1]
	DedupWindowMs  int     // >= 0
}

// DefaultEngineConfig returns the policy used when nothing is configured.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PreferServer:   false,
		AutoSync:       true,
		SyncIntervalMs: 30000,
		MinConfidence:  0.1,
		DedupWindowMs:  3000,
	}
}

// SyncInterval returns the sync tick period.
func (c EngineConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMs) * time.Millisecond
}

// DedupWindow returns the maximum timestamp distance for fusion matches.
func (c EngineConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// Validate checks the snapshot invariants.
func (c EngineConfig) Validate() error {
	var errs []string
	if c.SyncIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("syncIntervalMs must be positive, got %d", c.SyncIntervalMs))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("minConfidence must be within [0,1], got %g", c.MinConfidence))
	}
	if c.DedupWindowMs < 0 {
		errs = append(errs, fmt.Sprintf("dedupWindowMs must not be negative, got %d", c.DedupWindowMs))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(ValidationError{Errors: errs}).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Build()
}

// EngineConfigHolder publishes EngineConfig snapshots to concurrent readers.
type EngineConfigHolder struct {
	current atomic.Pointer[EngineConfig]
}

// NewEngineConfigHolder validates cfg and wraps it in a holder.
func NewEngineConfigHolder(cfg EngineConfig) (*EngineConfigHolder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &EngineConfigHolder{}
	h.current.Store(&cfg)
	return h, nil
}

// Snapshot returns the current configuration by value.
func (h *EngineConfigHolder) Snapshot() EngineConfig {
	return *h.current.Load()
}

// Update swaps in a new validated snapshot. An invalid configuration leaves
// the current one in place.
func (h *EngineConfigHolder) Update(next EngineConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	h.current.Store(&next)
	return nil
}
