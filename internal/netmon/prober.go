package netmon

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/httpclient"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// Prober periodically checks reachability of a URL and feeds the result into
// a Monitor. Any HTTP answer, whatever its status, counts as online.
type Prober struct {
	URL        string
	Interval   time.Duration
	HTTPClient *http.Client
	monitor    *Monitor
}

// NewProber creates a prober from settings.
func NewProber(settings *conf.NetworkSettings, m *Monitor) *Prober {
	interval := settings.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := settings.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		URL:        settings.ProbeURL,
		Interval:   interval,
		HTTPClient: httpclient.New(httpclient.Config{Timeout: timeout, Component: "netmon", MaxIdleConnsPerHost: 1}),
		monitor:    m,
	}
}

// ProbeOnce performs a single check and applies it to the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() != nil {
		// a cancelled probe says nothing about the network
		return p.monitor.IsOnline()
	}
	p.monitor.HandleTransition(online)
	return online
}

// Run probes immediately and then every Interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

func (p *Prober) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, http.NoBody)
	if err != nil {
		GetLogger().Warn("invalid probe URL", logger.Redacted("url", p.URL), logger.Error(err))
		return false
	}
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		GetLogger().Debug("probe failed", logger.Redacted("url", p.URL), logger.Error(err))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}
