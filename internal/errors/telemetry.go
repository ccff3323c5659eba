package errors

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every built EnhancedError when reporting is enabled.
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
	IsEnabled() bool
}

var (
	telemetryReporter  TelemetryReporter
	reporterMu         sync.RWMutex
	hasActiveReporting atomic.Bool
)

// Pre-compiled scrubbing patterns
var (
	urlQueryPattern = regexp.MustCompile(`\?[^\s]*`)
	apiKeyPattern   = regexp.MustCompile(`(?i)(api_key|apikey|token|auth|password|secret)=[^\s&]+`)
)

// SetTelemetryReporter installs the reporter used by Build. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := telemetryReporter
	reporterMu.RUnlock()

	if reporter == nil || !reporter.IsEnabled() || ee.IsReported() {
		return
	}
	reporter.ReportError(ee)
	ee.MarkReported()
}

// SentryReporter forwards enhanced errors to Sentry with scrubbed messages.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry reporting is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}

		ctx := ee.GetContext()
		if len(ctx) > 0 {
			scrubbed := make(map[string]any, len(ctx))
			for k, v := range ctx {
				if s, ok := v.(string); ok {
					scrubbed[k] = basicURLScrub(s)
					continue
				}
				scrubbed[k] = v
			}
			scope.SetContext("error_context", scrubbed)
		}

		event := sentry.NewEvent()
		event.Level = getErrorLevel(ee.Category)
		event.Message = fmt.Sprintf("%s: %s", generateErrorTitle(ee), basicURLScrub(ee.Error()))
		event.Timestamp = ee.Timestamp
		sentry.CaptureEvent(event)
	})
}

func generateErrorTitle(ee *EnhancedError) string {
	return fmt.Sprintf("%s %s error", ee.Component, ee.Category)
}

func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryConfiguration, CategoryModelLoad, CategoryDatabase:
		return sentry.LevelError
	case CategoryNetwork, CategoryService, CategoryDownload, CategoryModelNotReady:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// basicURLScrub strips query strings and credential-looking key=value pairs.
func basicURLScrub(message string) string {
	message = urlQueryPattern.ReplaceAllString(message, "?[REDACTED]")
	return apiKeyPattern.ReplaceAllString(message, "[API_KEY_REDACTED]")
}
