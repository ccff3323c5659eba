// conf/config.go settings for the hybrid detection engine
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/birdnet-hybrid/internal/logger"
)

// EnvPrefix is prepended to every environment override, e.g. HYBRID_ENGINE_PREFERSERVER.
const EnvPrefix = "HYBRID"

// Settings contains all configuration options for the engine and its collaborators.
type Settings struct {
	Debug bool // true to enable debug mode

	Engine      EngineSettings       // per-window orchestration and sync policy
	Bearing     BearingSettings      // stereo direction-of-arrival estimation
	Location    LocationSettings     // fixed station position attached to detections
	Analysis    AnalysisSettings     // window framing for file replay
	Server      ServerSettings       // remote inference service
	Persistence PersistenceSettings  // remote store that receives offline detections
	Store       StoreSettings        // durable local queue
	Model       ModelSettings        // offline model lifecycle
	Network     NetworkSettings      // connectivity probing
	Metrics     MetricsSettings      // Prometheus endpoint
	Sentry      SentrySettings       // error telemetry
	Logging     logger.LoggingConfig // structured logging
}

// EngineSettings maps onto the immutable EngineConfig snapshot.
type EngineSettings struct {
	PreferServer   bool    // call the remote service when online and treat its results as authoritative
	AutoSync       bool    // allow timer-driven sync passes
	SyncIntervalMs int     // sync tick period
	MinConfidence  float64 // adapter output threshold
	DedupWindowMs  int     // max timestamp distance for merging server and offline results
}

// BearingSettings configures the stereo bearing estimator.
type BearingSettings struct {
	Enabled             bool
	MicSeparation       float64 // metres between the two capsules
	SpeedOfSound        float64 // m/s
	SilenceFloor        float64 // RMS below which a channel counts as silent
	ILDSaturationDB     float64 // level difference mapped to ±90°
	DisagreementDeg     float64 // ITD/ILD angle difference treated as disagreement
	DisagreementPenalty float64 // confidence attenuation on disagreement
	LowFreqCutoffHz     float64 // ILD is unreliable below this frequency
}

// LocationSettings is the station position sent with every detection.
type LocationSettings struct {
	Enabled   bool
	Latitude  float64
	Longitude float64
}

// AnalysisSettings controls how recordings are cut into windows.
type AnalysisSettings struct {
	WindowSeconds float64 // window length, BirdNET uses 3 s
	Overlap       float64 // seconds shared between consecutive windows
	SampleRate    int     // expected capture rate
}

// ServerSettings configures the remote inference adapter.
type ServerSettings struct {
	Enabled  bool
	URL      string        // base URL, requests go to {URL}/v1/predict
	APIKey   string        // optional bearer token
	Timeout  time.Duration // per request
	CacheTTL time.Duration // identical windows within this period reuse the response
	Breaker  BreakerSettings
}

// BreakerSettings configures the circuit breaker around remote calls.
type BreakerSettings struct {
	MaxFailures uint32        // consecutive failures before the breaker opens
	OpenTimeout time.Duration // time before a half-open probe is allowed
}

// PersistenceSettings selects and configures the remote persistence transport.
type PersistenceSettings struct {
	Backend string // "http" or "mqtt"
	Timeout time.Duration
	HTTP    HTTPPersistenceSettings
	MQTT    MQTTPersistenceSettings
}

// HTTPPersistenceSettings configures delivery over HTTP.
type HTTPPersistenceSettings struct {
	URL    string // base URL, detections go to {URL}/v1/detections
	APIKey string
}

// MQTTPersistenceSettings configures delivery over MQTT.
type MQTTPersistenceSettings struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // detections are published to {TopicPrefix}/detections/{id}
}

// StoreSettings selects the durable store backend.
type StoreSettings struct {
	Backend string // "sqlite", "mysql" or "badger"
	SQLite  SQLiteSettings
	MySQL   MySQLSettings
	Badger  BadgerSettings
}

// SQLiteSettings configures the SQLite backend.
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures the MySQL backend.
type MySQLSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// BadgerSettings configures the BadgerDB backend.
type BadgerSettings struct {
	Path     string
	InMemory bool
}

// ModelSettings configures the offline model lifecycle.
type ModelSettings struct {
	Dir         string  // directory holding <id>.tflite artifacts
	BaseURL     string  // download source, artifacts fetched from {BaseURL}/{id}.tflite
	DefaultID   string  // model loaded at startup when present
	LabelPath   string  // optional label file overriding <id>_labels.txt
	Threads     int     // interpreter threads, 0 = automatic
	Sensitivity float64 // sigmoid sensitivity applied to raw logits
}

// NetworkSettings configures connectivity probing.
type NetworkSettings struct {
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables over the defaults.
// An empty configPath searches the default config directories; a missing
// file is not an error.
func Load(configPath string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(v *viper.Viper, configPath string) error {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configPath, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	paths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting home directory: %w", err)
	}

	if runtime.GOOS == "windows" {
		return []string{".", filepath.Join(homeDir, "AppData", "Roaming", "birdnet-hybrid")}, nil
	}
	return []string{".", filepath.Join(homeDir, ".config", "birdnet-hybrid"), "/etc/birdnet-hybrid"}, nil
}

// EngineConfig converts the engine section into a validated snapshot.
func (s *Settings) EngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		PreferServer:   s.Engine.PreferServer,
		AutoSync:       s.Engine.AutoSync,
		SyncIntervalMs: s.Engine.SyncIntervalMs,
		MinConfidence:  s.Engine.MinConfidence,
		DedupWindowMs:  s.Engine.DedupWindowMs,
	}
	return cfg, cfg.Validate()
}
