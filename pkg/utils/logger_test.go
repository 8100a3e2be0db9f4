package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v) error: %v", debug, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%v) returned nil logger", debug)
		}
		_ = logger.Sync()
	}
}

func TestNewLogger_levels(t *testing.T) {
	dev, err := NewLogger(true)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Sync()
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger should enable debug level")
	}

	prod, err := NewLogger(false)
	if err != nil {
		t.Fatal(err)
	}
	defer prod.Sync()
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should suppress debug level")
	}
}
