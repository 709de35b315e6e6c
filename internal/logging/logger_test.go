package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode, false)
		if err != nil {
			t.Fatalf("New(%q) error = %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned nil SugaredLogger", mode)
		}
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	l, err := New("dev", true)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !l.SugaredLogger.Desugar().Core().Enabled(zap.DebugLevel) {
		t.Error("verbose logger does not enable debug")
	}

	quiet, err := New("dev", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if quiet.SugaredLogger.Desugar().Core().Enabled(zap.InfoLevel) {
		t.Error("quiet logger enables info")
	}
}

func TestLogger_WithFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("session", "abc")

	l.Warn("cancel failed", "error", "boom")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["session"] != "abc" {
		t.Errorf("session field = %v, want abc", fields["session"])
	}
	if fields["error"] != "boom" {
		t.Errorf("error field = %v, want boom", fields["error"])
	}
	if entries[0].Message != "cancel failed" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	l.Sync()
}
