package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `mapstructure:"defaultlevel" json:"defaultLevel"` // default level for all modules
	Timezone     string            `mapstructure:"timezone" json:"timezone"`         // "Local", "UTC", or IANA name
	Console      *ConsoleOutput    `mapstructure:"console" json:"console"`
	FileOutput   *FileOutput       `mapstructure:"fileoutput" json:"fileOutput"`
	ModuleLevels map[string]string `mapstructure:"modulelevels" json:"moduleLevels"` // per-module overrides, e.g. sync: debug
}

// ConsoleOutput configures human-readable console output without timestamps;
// journald or the container runtime adds them.
type ConsoleOutput struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Level   string `mapstructure:"level" json:"level"`
}

// FileOutput configures JSON file output with RFC3339 timestamps.
type FileOutput struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
	Level   string `mapstructure:"level" json:"level"`
}

const (
	DefaultLogLevel       = "info"
	DefaultLogPath        = "logs/hybrid.log"
	DefaultConsoleEnabled = true
	DefaultFileEnabled    = false
)

// applyConfigDefaults fills nil sections so a partially written config still logs somewhere.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
		}
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
	if cfg.ModuleLevels == nil {
		cfg.ModuleLevels = make(map[string]string)
	}
}
