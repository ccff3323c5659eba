package persist

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/httpclient"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

const maxErrorBody = 512

// HTTPPersister posts detections to {BaseURL}/v1/detections. A 2xx answer or
// 409 Conflict (already stored) counts as acknowledged.
type HTTPPersister struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPPersister creates an HTTP persister from settings.
func NewHTTPPersister(settings *conf.PersistenceSettings) *HTTPPersister {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPersister{
		BaseURL:    strings.TrimRight(settings.HTTP.URL, "/"),
		APIKey:     settings.HTTP.APIKey,
		HTTPClient: httpclient.New(httpclient.Config{Timeout: timeout, Component: "persist"}),
	}
}

// PersistDetection delivers one detection.
func (p *HTTPPersister) PersistDetection(ctx context.Context, d *detection.Detection) error {
	body, err := json.Marshal(newPayload(d))
	if err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryValidation).
			Context("detection_id", d.ID).
			Build()
	}

	endpoint := p.BaseURL + "/v1/detections"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryConfiguration).
			Context("url", endpoint).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.ID)
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	log := GetLogger().With(logger.String("detection_id", d.ID))
	start := time.Now()
	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		log.Warn("detection post failed", logger.Error(err))
		return networkError(err, "http", d.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Debug("detection acknowledged",
			logger.Int("status_code", resp.StatusCode),
			logger.Duration("elapsed", time.Since(start)))
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	log.Warn("detection rejected",
		logger.Int("status_code", resp.StatusCode),
		logger.String("response", logger.RedactSensitiveData(string(responseBody))))
	return errors.Newf("persist detection: unexpected status %d", resp.StatusCode).
		Component("persist").
		Category(errors.CategoryService).
		Context("status_code", resp.StatusCode).
		Context("detection_id", d.ID).
		Build()
}

// Close releases idle connections.
func (p *HTTPPersister) Close() error {
	p.HTTPClient.CloseIdleConnections()
	return nil
}
