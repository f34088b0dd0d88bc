package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLevels(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"WARN", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
	} {
		got, err := ParseLevel(tc.level)
		if (err == nil) != tc.ok {
			t.Errorf("ParseLevel(%q) err = %v", tc.level, err)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if _, err := Setup(Config{Format: "yaml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("credentials stored", "token", "eyJhbGciOi.secret.value", "user", "alice")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["token"] != Redacted {
		t.Errorf("token = %v", record["token"])
	}
	if record["user"] != "alice" {
		t.Errorf("user = %v", record["user"])
	}
}

func TestRedactsEmbeddedTokens(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	logger.Info("upstream rejected", "detail", "header was Bearer abc123def456")

	if out := buf.String(); strings.Contains(out, "abc123def456") {
		t.Errorf("token leaked: %s", out)
	}
}

func TestRedactString(t *testing.T) {
	in := `{"auth":"Bearer xyz-789"}`
	out := RedactString(in)
	if strings.Contains(out, "xyz-789") {
		t.Errorf("RedactString left token: %s", out)
	}
}
