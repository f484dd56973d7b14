package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitByConfigStdoutOnly(t *testing.T) {
	if err := initByConfig(Config{Level: "info", Format: "text"}); err != nil {
		t.Fatalf("initByConfig: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be set")
	}
}

func TestInitByConfigJSONFormat(t *testing.T) {
	if err := initByConfig(Config{Level: "debug", Format: "json"}); err != nil {
		t.Fatalf("initByConfig: %v", err)
	}
	adapter, ok := logger.(*logrusAdapter)
	if !ok {
		t.Fatalf("expected *logrusAdapter, got %T", logger)
	}
	if _, ok := adapter.entry.Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSONFormatter, got %T", adapter.entry.Logger.Formatter)
	}
}

func TestInitByConfigRejectsUnknownFormat(t *testing.T) {
	if err := initByConfig(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInitByConfigFallsBackToInfoOnBadLevel(t *testing.T) {
	if err := initByConfig(Config{Level: "not-a-level", Format: "text"}); err != nil {
		t.Fatalf("initByConfig: %v", err)
	}
	adapter := logger.(*logrusAdapter)
	if adapter.entry.Logger.Level != logrus.InfoLevel {
		t.Fatalf("expected InfoLevel fallback, got %v", adapter.entry.Logger.Level)
	}
}

func TestInitByConfigWithFileOutputWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayd.log")
	if err := initByConfig(Config{Level: "info", Format: "text", File: path}); err != nil {
		t.Fatalf("initByConfig: %v", err)
	}
	logger.Info("hello")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestEntryReturnsUnderlyingLogrusEntry(t *testing.T) {
	if err := initByConfig(Config{Level: "info", Format: "text"}); err != nil {
		t.Fatalf("initByConfig: %v", err)
	}
	if logger.Entry() == nil {
		t.Fatal("expected non-nil *logrus.Entry")
	}
}
