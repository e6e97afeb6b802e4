package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitialize_NoOpWhenDebugOff(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer CloseAll()

	Get(CategoryEngine).Info("should go nowhere")

	if _, err := os.Stat(filepath.Join(ws, ".formsense", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestInitialize_WritesCategoryFile(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	Get(CategoryEngine).Info("pipeline started for session %s", "s1")
	CloseAll()

	dir := filepath.Join(ws, ".formsense", "logs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "engine") {
			found = true
			data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
			if !strings.Contains(string(data), "pipeline started for session s1") {
				t.Errorf("log line missing, got: %s", data)
			}
		}
	}
	if !found {
		t.Error("no engine log file created")
	}
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	err := Initialize(ws, Options{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"rules": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	if IsCategoryEnabled(CategoryRules) {
		t.Error("rules category should be disabled")
	}
	if !IsCategoryEnabled(CategoryEngine) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestRequestLogger(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		logsDir = ""
	}()

	rl := WithRequestID(CategoryWorker, "req-42")
	rl.Info("dispatched")
	CloseAll()

	dir := filepath.Join(ws, ".formsense", "logs")
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.Contains(e.Name(), "worker") {
			data, _ := os.ReadFile(filepath.Join(dir, e.Name()))
			if !strings.Contains(string(data), "[req:req-42] dispatched") {
				t.Errorf("request id missing from log line: %s", data)
			}
			return
		}
	}
	t.Error("no worker log file created")
}
