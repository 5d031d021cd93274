package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/home-monitor/internal/config"
)

func TestApplyLevelAndFormat(t *testing.T) {
	logger := log.New()

	if _, err := apply(logger, config.LoggingConfig{Level: "DEBUG", Format: "json", Output: "stdout"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if logger.GetLevel() != log.DebugLevel {
		t.Errorf("level: got %v, want debug", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.JSONFormatter); !ok {
		t.Errorf("formatter: got %T, want JSON", logger.Formatter)
	}
}

func TestApplyUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := log.New()
	if _, err := apply(logger, config.LoggingConfig{Level: "chatty"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if logger.GetLevel() != log.InfoLevel {
		t.Errorf("level: got %v, want info", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*log.TextFormatter); !ok {
		t.Errorf("formatter: got %T, want text", logger.Formatter)
	}
}

func TestApplyFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.log")
	logger := log.New()

	closer, err := apply(logger, config.LoggingConfig{Level: "info", Output: path})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	logger.Info("dht: sampling started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "dht: sampling started") {
		t.Errorf("log file missing message: %q", data)
	}
}

func TestApplyBadFilePath(t *testing.T) {
	logger := log.New()
	closer, err := apply(logger, config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Error("expected error for unwritable path")
	}
	if closer == nil {
		t.Error("closer must never be nil")
	}
}
