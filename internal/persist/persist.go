// Package persist delivers offline detections to the remote persistence
// service. Every transport uses the detection ID as idempotency key, so a
// retried delivery of an acknowledged detection is harmless.
package persist

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/detection"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// Persister is a remote persistence transport.
type Persister interface {
	PersistDetection(ctx context.Context, d *detection.Detection) error
	Close() error
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the persist package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("persist")
	})
	return serviceLogger
}

// New creates the transport selected by settings. MQTT persisters are
// connected before they are returned.
func New(ctx context.Context, settings *conf.PersistenceSettings) (Persister, error) {
	switch strings.ToLower(settings.Backend) {
	case "http", "":
		return NewHTTPPersister(settings), nil
	case "mqtt":
		p := NewMQTTPersister(settings)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Newf("unsupported persistence backend %q", settings.Backend).
			Component("persist").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// payload is the record sent to the remote store.
type payload struct {
	ID             string    `json:"id"`
	CommonName     string    `json:"commonName"`
	ScientificName string    `json:"scientificName"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	Origin         string    `json:"origin"`
	Latitude       *float64  `json:"lat,omitempty"`
	Longitude      *float64  `json:"lon,omitempty"`
	BearingAngle   *float64  `json:"bearingAngle,omitempty"`
	BearingConf    *float64  `json:"bearingConfidence,omitempty"`
}

func newPayload(d *detection.Detection) payload {
	p := payload{
		ID:             d.ID,
		CommonName:     d.CommonName,
		ScientificName: d.ScientificName,
		Confidence:     d.Confidence,
		Timestamp:      d.Timestamp.UTC(),
		Origin:         string(d.Origin),
	}
	if d.Location != nil {
		lat, lon := d.Location.Latitude, d.Location.Longitude
		p.Latitude, p.Longitude = &lat, &lon
	}
	if d.Bearing != nil {
		angle, confidence := d.Bearing.AngleDegrees, d.Bearing.Confidence
		p.BearingAngle, p.BearingConf = &angle, &confidence
	}
	return p
}

func networkError(err error, transport, id string) error {
	return errors.New(err).
		Component("persist").
		Category(errors.CategoryNetwork).
		Context("transport", transport).
		Context("detection_id", id).
		Build()
}
