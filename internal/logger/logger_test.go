package logger

import (
	"bytes"
	stdlog "log"
	"os"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestInitJSON(t *testing.T) {
	defer stdlog.SetOutput(os.Stderr)

	var buf bytes.Buffer
	l := Init(Config{Level: "WARN"}, &buf)

	l.Info().Msg("hidden")
	l.Warn().Str("component", "test").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["message"] != "shown" || rec["level"] != "warn" || rec["service"] != "reedlink" {
		t.Errorf("record = %v", rec)
	}
}

func TestInitRedirectsStdlib(t *testing.T) {
	defer stdlog.SetOutput(os.Stderr)

	var buf bytes.Buffer
	Init(Config{Level: "debug"}, &buf)
	stdlog.Print("from stdlib")

	if !strings.Contains(buf.String(), "from stdlib") {
		t.Errorf("stdlib output not captured: %q", buf.String())
	}
}

func TestInitBadLevelDefaultsToInfo(t *testing.T) {
	defer stdlog.SetOutput(os.Stderr)

	var buf bytes.Buffer
	l := Init(Config{Level: "loud", Pretty: true}, &buf)
	l.Debug().Msg("dropped")
	l.Info().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Errorf("output = %q", out)
	}
}
