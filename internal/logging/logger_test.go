package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(minLevel LogLevel) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{out: buf, minLevel: minLevel}, buf
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newTestLogger(LevelInfo)

	logger.Debug("hidden")
	logger.Info("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry.Level != "INFO" || entry.Message != "shown" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
}

func TestLoggerErrorWithCode(t *testing.T) {
	logger, buf := newTestLogger(LevelDebug)

	logger.ErrorWithCode("sync pass failed", "SYNC_FAILED", errors.New("connection refused"),
		map[string]interface{}{"retry_count": 2})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry.Code != "SYNC_FAILED" {
		t.Errorf("Expected code SYNC_FAILED, got %s", entry.Code)
	}
	if entry.Error != "connection refused" {
		t.Errorf("Expected cause recorded, got %q", entry.Error)
	}
	if entry.Context["retry_count"] != float64(2) {
		t.Errorf("Context lost: %+v", entry.Context)
	}
}
