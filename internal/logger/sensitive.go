package logger

import "regexp"

// sensitivePatterns match credentials that can appear in endpoint URLs,
// MQTT broker strings and HTTP error bodies.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,&\s]{5,})`),
	regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)(@)`),
}

// RedactSensitiveData replaces credentials in input with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitivePatterns {
		if i == len(sensitivePatterns)-1 {
			input = pattern.ReplaceAllString(input, "$1[REDACTED]$3")
			continue
		}
		input = pattern.ReplaceAllString(input, "$1[REDACTED]")
	}
	return input
}

// Redacted creates a string field with credentials removed.
func Redacted(key, value string) Field {
	return String(key, RedactSensitiveData(value))
}
