package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSetTextOutputHonorsLevel(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	SetTextOutput(&buf, slog.LevelWarn)

	Info("should be suppressed")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be suppressed") {
		t.Errorf("info line leaked through warn-level text logger: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn line missing from text logger output: %q", out)
	}
}

func TestSetTextOutputDebugLevel(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	SetTextOutput(&buf, slog.LevelDebug)

	Debug("debug line")

	if !strings.Contains(buf.String(), "debug line") {
		t.Errorf("debug line missing at debug level: %q", buf.String())
	}
}
