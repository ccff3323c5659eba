// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	collect := func(errs []string) {
		ve.Errors = append(ve.Errors, errs...)
	}

	if _, err := settings.EngineConfig(); err != nil {
		collect([]string{err.Error()})
	}
	collect(validateBearingSettings(&settings.Bearing))
	collect(validateLocationSettings(&settings.Location))
	collect(validateAnalysisSettings(&settings.Analysis))
	collect(validateServerSettings(&settings.Server))
	collect(validatePersistenceSettings(&settings.Persistence))
	collect(validateStoreSettings(&settings.Store))
	collect(validateModelSettings(&settings.Model))

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateBearingSettings(s *BearingSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.MicSeparation <= 0 {
		errs = append(errs, "bearing.micseparation must be positive")
	}
	if s.SpeedOfSound <= 0 {
		errs = append(errs, "bearing.speedofsound must be positive")
	}
	if s.SilenceFloor < 0 {
		errs = append(errs, "bearing.silencefloor must not be negative")
	}
	if s.ILDSaturationDB <= 0 {
		errs = append(errs, "bearing.ildsaturationdb must be positive")
	}
	if s.DisagreementDeg <= 0 || s.DisagreementDeg > 180 {
		errs = append(errs, "bearing.disagreementdeg must be within (0,180]")
	}
	if s.DisagreementPenalty < 0 || s.DisagreementPenalty > 1 {
		errs = append(errs, "bearing.disagreementpenalty must be within [0,1]")
	}
	return errs
}

func validateLocationSettings(s *LocationSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if s.Latitude < -90 || s.Latitude > 90 {
		errs = append(errs, fmt.Sprintf("location.latitude %g out of range", s.Latitude))
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		errs = append(errs, fmt.Sprintf("location.longitude %g out of range", s.Longitude))
	}
	return errs
}

func validateAnalysisSettings(s *AnalysisSettings) []string {
	var errs []string
	if s.WindowSeconds <= 0 {
		errs = append(errs, "analysis.windowseconds must be positive")
	}
	if s.Overlap < 0 || s.Overlap >= s.WindowSeconds {
		errs = append(errs, "analysis.overlap must be within [0, windowseconds)")
	}
	if s.SampleRate <= 0 {
		errs = append(errs, "analysis.samplerate must be positive")
	}
	return errs
}

func validateServerSettings(s *ServerSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if err := validateURL("server.url", s.URL); err != "" {
		errs = append(errs, err)
	}
	if s.Timeout <= 0 {
		errs = append(errs, "server.timeout must be positive")
	}
	if s.Breaker.MaxFailures == 0 {
		errs = append(errs, "server.breaker.maxfailures must be positive")
	}
	return errs
}

func validatePersistenceSettings(s *PersistenceSettings) []string {
	var errs []string
	switch strings.ToLower(s.Backend) {
	case "http":
		if s.HTTP.URL != "" {
			if err := validateURL("persistence.http.url", s.HTTP.URL); err != "" {
				errs = append(errs, err)
			}
		}
	case "mqtt":
		if s.MQTT.Broker == "" {
			errs = append(errs, "persistence.mqtt.broker is required for the mqtt backend")
		}
		if s.MQTT.TopicPrefix == "" {
			errs = append(errs, "persistence.mqtt.topicprefix must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("persistence.backend %q is not one of http, mqtt", s.Backend))
	}
	if s.Timeout <= 0 {
		errs = append(errs, "persistence.timeout must be positive")
	}
	return errs
}

func validateStoreSettings(s *StoreSettings) []string {
	switch strings.ToLower(s.Backend) {
	case "sqlite":
		if s.SQLite.Path == "" {
			return []string{"store.sqlite.path must not be empty"}
		}
	case "mysql":
		if s.MySQL.Host == "" || s.MySQL.Database == "" {
			return []string{"store.mysql.host and store.mysql.database are required"}
		}
	case "badger":
		if s.Badger.Path == "" && !s.Badger.InMemory {
			return []string{"store.badger.path must not be empty unless inmemory is set"}
		}
	default:
		return []string{fmt.Sprintf("store.backend %q is not one of sqlite, mysql, badger", s.Backend)}
	}
	return nil
}

func validateModelSettings(s *ModelSettings) []string {
	var errs []string
	if s.Dir == "" {
		errs = append(errs, "model.dir must not be empty")
	}
	if s.Sensitivity <= 0 {
		errs = append(errs, "model.sensitivity must be positive")
	}
	if s.Threads < 0 {
		errs = append(errs, "model.threads must not be negative")
	}
	if s.BaseURL != "" {
		if err := validateURL("model.baseurl", s.BaseURL); err != "" {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateURL(key, raw string) string {
	if raw == "" {
		return key + " is required"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Sprintf("%s %q is not an absolute URL", key, raw)
	}
	return ""
}
