package errlog

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLimiter_OncePerWindow(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(slog.New(slog.NewTextHandler(&buf, nil)), time.Minute, func() time.Time { return now })
	err := errors.New("connection refused")

	if !l.Error("publish", "publish failed", err) {
		t.Error("first error should be logged")
	}
	now = now.Add(30 * time.Second)
	if l.Error("publish", "publish failed", err) {
		t.Error("second error within window should be suppressed")
	}
	if !l.Error("poll", "poll failed", err) {
		t.Error("different key should be logged")
	}
	now = now.Add(31 * time.Second)
	if !l.Error("publish", "publish failed", err) {
		t.Error("error after window should be logged")
	}

	if got := strings.Count(buf.String(), "publish failed"); got != 2 {
		t.Errorf("logged %d publish records, want 2", got)
	}
	if !strings.Contains(buf.String(), "suppressed=1") {
		t.Errorf("expected suppressed count in output: %s", buf.String())
	}
}

func TestLimiter_Reset(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, nil)), time.Hour, nil)
	err := errors.New("boom")

	l.Warn("k", "failed", err)
	l.Reset("k")

	if !l.Warn("k", "failed", err) {
		t.Error("Reset should allow immediate logging")
	}
}
