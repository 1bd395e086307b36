package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("tokenswapd", "test", Options{Output: &buf})
	logger.Info("hello", slog.String("method", "deposit"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"service":  "tokenswapd",
		"env":      "test",
		"message":  "hello",
		"severity": "INFO",
		"method":   "deposit",
	} {
		if line[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, line[key])
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp key")
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("tokenswapd", "", Options{Output: &buf, Level: ParseLevel("warn")})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn line missing")
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenswapd.log")
	var buf bytes.Buffer
	logger := Setup("tokenswapd", "", Options{Output: &buf, File: &FileOptions{Path: path, MaxSizeMB: 1}})
	logger.Info("persisted")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Fatalf("log file missing line: %s", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("keystore", "/secrets/key.json"); got.Value.String() != RedactedValue {
		t.Fatalf("expected keystore path to be redacted, got %s", got.Value)
	}
	if got := MaskField("method", "deposit"); got.Value.String() != "deposit" {
		t.Fatalf("allowlisted key redacted")
	}
	if got := MaskField("keystore", " "); got.Value.String() != " " {
		t.Fatalf("empty values should pass through")
	}
}
