package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func setup(t *testing.T) string {
	t.Helper()
	ResetLogger()
	t.Cleanup(func() {
		ResetLogger()
		_ = SetLevel("info")
	})
	logPath := filepath.Join(t.TempDir(), "evfeatures.log")
	SetLogPath(logPath)
	return logPath
}

// TestInitLogger ensures that the logger initializes properly.
func TestInitLogger(t *testing.T) {
	logPath := setup(t)

	InitLogger()
	if log == nil {
		t.Fatal("Expected logger to be initialized, but got nil")
	}
	log.Info("Test log message")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("Log file was not created")
	}
}

// TestGetLogger ensures that GetLogger returns a non-nil instance.
func TestGetLogger(t *testing.T) {
	logPath := setup(t)

	logger := GetLogger()
	if logger == nil {
		t.Fatal("Expected non-nil logger instance, but got nil")
	}
	logger.Info("Logger retrieved successfully")
	Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("Logger retrieved successfully")) {
		t.Fatal("Expected log message not found in log file")
	}
}

func TestSetLevel(t *testing.T) {
	logPath := setup(t)

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	GetLogger().Info("hidden message")
	GetLogger().Warn("visible message")
	Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if bytes.Contains(data, []byte("hidden message")) {
		t.Error("Info message logged at warn level")
	}
	if !bytes.Contains(data, []byte("visible message")) {
		t.Error("Warn message missing")
	}

	if err := SetLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestNoLogFile(t *testing.T) {
	setup(t)
	SetLogPath("")

	if GetLogger() == nil {
		t.Fatal("Expected console-only logger")
	}
}
