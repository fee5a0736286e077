package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledLoggingIsNoOp(t *testing.T) {
	CloseAll()
	if err := Configure("", Options{DebugMode: false}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	// None of these should panic or create files.
	Store("hello %s", "world")
	Get(CategoryService).Error("err %d", 42)
	if IsDebugMode() {
		t.Error("debug mode should be off")
	}
}

func TestConfigureWritesCategoryFiles(t *testing.T) {
	CloseAll()
	dir := t.TempDir()
	err := Configure(dir, Options{DebugMode: true, Level: "debug"})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()

	Store("store message")
	StoreDebug("store debug message")

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}

	var storeFile string
	for _, e := range entries {
		if strings.Contains(e.Name(), "store") {
			storeFile = filepath.Join(dir, "logs", e.Name())
		}
	}
	if storeFile == "" {
		t.Fatal("expected a store category log file")
	}

	data, err := os.ReadFile(storeFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "store message") {
		t.Errorf("log file missing info line: %s", data)
	}
	if !strings.Contains(string(data), "store debug message") {
		t.Errorf("log file missing debug line at debug level: %s", data)
	}
}

func TestCategoryFilter(t *testing.T) {
	CloseAll()
	dir := t.TempDir()
	err := Configure(dir, Options{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"world": false},
	})
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryWorld) {
		t.Error("world category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should default to enabled")
	}

	World("should not appear")
	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, e := range entries {
		if strings.Contains(e.Name(), "world") {
			t.Errorf("disabled category produced a file: %s", e.Name())
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	CloseAll()
	dir := t.TempDir()
	if err := Configure(dir, Options{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer CloseAll()

	l := Get(CategoryService)
	l.Info("info line")
	l.Warn("warn line")

	entries, _ := os.ReadDir(filepath.Join(dir, "logs"))
	for _, e := range entries {
		if !strings.Contains(e.Name(), "service") {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
		if strings.Contains(string(data), "info line") {
			t.Error("info line should be filtered at warn level")
		}
		if !strings.Contains(string(data), "warn line") {
			t.Error("warn line missing")
		}
	}
}
