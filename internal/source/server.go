package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/httpclient"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
	"github.com/tphakala/birdnet-hybrid/internal/myaudio"
)

const (
	defaultServerTimeout = 15 * time.Second
	defaultCacheTTL      = 30 * time.Second
	defaultMaxFailures   = 5
	defaultOpenTimeout   = time.Minute
	maxErrorBody         = 4096
)

type predictResponse struct {
	Detections []predictEntry `json:"detections"`
}

type predictEntry struct {
	CommonName     string  `json:"common_name"`
	ScientificName string  `json:"scientific_name"`
	Confidence     float64 `json:"confidence"`
}

// ServerAdapter calls POST {BaseURL}/v1/predict with the window as 16-bit
// WAV. Calls go through a circuit breaker and identical windows are answered
// from a short-lived cache.
type ServerAdapter struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker[[]predictEntry]
	cache   *cache.Cache
	log     logger.Logger
}

// NewServerAdapter creates an adapter from settings.
func NewServerAdapter(settings *conf.ServerSettings) (*ServerAdapter, error) {
	if settings == nil || settings.URL == "" {
		return nil, errors.Newf("remote inference URL is not configured").
			Component("source.server").
			Category(errors.CategoryConfiguration).
			Build()
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultServerTimeout
	}
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	maxFailures := settings.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := settings.Breaker.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}

	log := GetLogger().Module("server")
	a := &ServerAdapter{
		BaseURL:    strings.TrimSuffix(settings.URL, "/"),
		APIKey:     settings.APIKey,
		HTTPClient: httpclient.New(httpclient.Config{Timeout: timeout, Component: "source"}),
		cache:      cache.New(ttl, ttl*2),
		log:        log,
	}
	a.breaker = gobreaker.NewCircuitBreaker[[]predictEntry](gobreaker.Settings{
		Name:        "remote-inference",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// the service answering with a client error is not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || (errors.IsCategory(err, errors.CategoryService) && !isServerFault(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return a, nil
}

// Detect implements Adapter.
func (a *ServerAdapter) Detect(ctx context.Context, w Window) ([]detection.RawDetection, error) {
	if w.SampleRate <= 0 || len(w.Samples) == 0 {
		return nil, errors.Newf("empty window or invalid sample rate %d", w.SampleRate).
			Component("source.server").
			Category(errors.CategoryConfiguration).
			Build()
	}

	key := cacheKey(w)
	var entries []predictEntry
	if cached, found := a.cache.Get(key); found {
		entries = cached.([]predictEntry)
		a.log.Trace("serving window from response cache")
	} else {
		var err error
		entries, err = a.breaker.Execute(func() ([]predictEntry, error) {
			return a.predict(ctx, w)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, errors.New(fmt.Errorf("remote inference unavailable: %w", err)).
					Component("source.server").
					Category(errors.CategoryNetwork).
					Build()
			}
			return nil, err
		}
		a.cache.Set(key, entries, cache.DefaultExpiration)
	}

	raw := make([]detection.RawDetection, 0, len(entries))
	for _, e := range entries {
		if e.ScientificName == "" {
			continue
		}
		common := e.CommonName
		if common == "" {
			common = e.ScientificName
		}
		raw = append(raw, detection.RawDetection{
			CommonName:     common,
			ScientificName: e.ScientificName,
			Confidence:     min(max(e.Confidence, 0), 1),
			Timestamp:      w.CapturedAt,
		})
	}
	return detection.FilterAndSort(raw, w.MinConfidence), nil
}

func (a *ServerAdapter) predict(ctx context.Context, w Window) ([]predictEntry, error) {
	body, err := myaudio.EncodeWAV(w.Samples, w.SampleRate)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("sample_rate", strconv.Itoa(w.SampleRate))
	if w.Location != nil {
		q.Set("lat", strconv.FormatFloat(w.Location.Latitude, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(w.Location.Longitude, 'f', -1, 64))
	}
	endpoint := a.BaseURL + "/v1/predict?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(err).Component("source.server").Category(errors.CategoryConfiguration).Build()
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	start := time.Now()
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("remote inference request failed: %w", err)).
			Component("source.server").
			Category(errors.CategoryNetwork).
			Timing("predict", time.Since(start)).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.log.Warn("remote inference rejected window",
			logger.Int("status_code", resp.StatusCode),
			logger.String("body", logger.RedactSensitiveData(string(msg))))
		return nil, errors.Newf("remote inference returned status %d", resp.StatusCode).
			Component("source.server").
			Category(errors.CategoryService).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.New(fmt.Errorf("decode remote inference response: %w", err)).
			Component("source.server").
			Category(errors.CategoryService).
			Build()
	}
	a.log.Debug("remote inference complete",
		logger.Int("detections", len(out.Detections)),
		logger.Duration("elapsed", time.Since(start)))
	return out.Detections, nil
}

// isServerFault reports whether a service error was a 5xx answer.
func isServerFault(err error) bool {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return false
	}
	code, ok := ee.GetContext()["status_code"].(int)
	return !ok || code >= 500
}

// cacheKey identifies a window by its audio content, rate and location.
func cacheKey(w Window) string {
	h := sha256.New()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(w.SampleRate)) //nolint:gosec // G115: positive sample rate
	h.Write(b[:])
	if w.Location != nil {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(w.Location.Latitude))
		h.Write(b[:])
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(w.Location.Longitude))
		h.Write(b[:])
	}
	for _, s := range w.Samples {
		binary.LittleEndian.PutUint32(b[:4], math.Float32bits(s))
		h.Write(b[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}
