// Package httpclient builds the HTTP clients used to reach the remote
// inference service, the remote store, the model download source and the
// connectivity probe target.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

const (
	// DefaultTimeout bounds a whole request when the caller gives no timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent with every request that does not set its own.
	DefaultUserAgent = "BirdNET-Hybrid"

	defaultMaxIdleConns          = 20
	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultDialKeepAlive         = 30 * time.Second
)

// Config holds the options for New. Zero values fall back to the defaults.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	Component           string // added to the request debug log
	MaxIdleConnsPerHost int
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the httpclient package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("httpclient")
	})
	return serviceLogger
}

// New returns a client with a tuned connection pool. Requests get the
// configured User-Agent and are logged at debug level with their duration.
func New(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}

	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: Wrap(base, cfg),
	}
}

// Wrap adds User-Agent injection and request logging to base.
func Wrap(base http.RoundTripper, cfg Config) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	log := GetLogger()
	if cfg.Component != "" {
		log = log.With(logger.String("component", cfg.Component))
	}
	return &transport{base: base, userAgent: cfg.UserAgent, log: log}
}

type transport struct {
	base      http.RoundTripper
	userAgent string
	log       logger.Logger
}

// RoundTrip implements http.RoundTripper. The caller's request is not modified.
func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	fields := []logger.Field{
		logger.String("method", req.Method),
		logger.String("host", req.URL.Host),
		logger.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		t.log.Debug("http request failed", append(fields, logger.Error(err))...)
		return nil, err
	}
	t.log.Debug("http request completed", append(fields, logger.Int("status", resp.StatusCode))...)
	return resp, nil
}
