package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-hybrid/internal/buildinfo"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
	"github.com/tphakala/birdnet-hybrid/internal/errors"
)

func TestInitSentryDisabled(t *testing.T) {
	require.NoError(t, InitSentry(&conf.SentrySettings{}, buildinfo.New("dev", "")))
	require.NoError(t, InitSentry(nil, nil))
}

func TestInitSentryRequiresDSN(t *testing.T) {
	err := InitSentry(&conf.SentrySettings{Enabled: true}, buildinfo.New("dev", ""))
	assert.ErrorIs(t, err, errors.ConfigurationError)
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := sentry.NewEvent()
	event.User = sentry.User{ID: "42", IPAddress: "192.0.2.1"}
	event.ServerName = "station-7.local"
	event.Contexts = map[string]sentry.Context{
		"device":      {"name": "rpi"},
		"os":          {"name": "linux"},
		"application": {"name": "birdnet-hybrid"},
	}
	event.Tags = map[string]string{"hostname": "station-7", "category": "network"}

	filtered := applyPrivacyFilters(event)
	require.NotNil(t, filtered)
	assert.Empty(t, filtered.User.ID)
	assert.Empty(t, filtered.User.IPAddress)
	assert.Empty(t, filtered.ServerName)
	assert.NotContains(t, filtered.Contexts, "device")
	assert.NotContains(t, filtered.Contexts, "os")
	assert.Contains(t, filtered.Contexts, "application")
	assert.Equal(t, map[string]string{"category": "network"}, filtered.Tags)

	assert.Nil(t, applyPrivacyFilters(nil))
}

func TestCollectPlatformInfo(t *testing.T) {
	info := collectPlatformInfo()
	assert.NotEmpty(t, info.OS)
	assert.Positive(t, info.NumCPU)
}
