package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeys are attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"token":         true,
	"cookies":       true,
	"cookie":        true,
	"authorization": true,
	"api_key":       true,
	"apikey":        true,
	"password":      true,
}

// tokenPattern matches bearer tokens and API keys embedded in free text.
var tokenPattern = regexp.MustCompile(`(?i)(bearer\s+|sk-)[a-zA-Z0-9._-]+`)

// Redacted is the replacement string for masked values.
const Redacted = "***REDACTED***"

// redactAttr is the slog ReplaceAttr hook. It masks values of sensitive
// keys entirely and scrubs token-shaped substrings from other strings.
func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); tokenPattern.MatchString(v) {
			return slog.String(a.Key, tokenPattern.ReplaceAllString(v, Redacted))
		}
	}
	return a
}

// RedactString scrubs token-shaped substrings from s. Handlers use it when
// embedding upstream payloads in error messages.
func RedactString(s string) string {
	return tokenPattern.ReplaceAllString(s, Redacted)
}
