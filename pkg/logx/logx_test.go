package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestLogger(t *testing.T, opts Options) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	if err := Configure(opts); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Configure(Options{})
	})
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t, Options{})

	logger := NewLogger("scene-2")
	logger.Info("rendered %s", "v1")

	output := buf.String()
	if !strings.Contains(output, "[scene-2]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO: rendered v1") {
		t.Errorf("Expected level and message in output, got: %s", output)
	}
	if !strings.HasPrefix(output, "[") || !strings.Contains(output, "Z]") {
		t.Errorf("Expected UTC timestamp prefix, got: %s", output)
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	buf := setupTestLogger(t, Options{})

	NewLogger("synth").Debug("hidden")
	Debug(context.Background(), "synth", "also hidden")

	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t, Options{Debug: true, DebugDomains: []string{"scene"}})

	ctx := WithComponent(context.Background(), "coordinator")
	Debug(ctx, "scene", "kept %d", 1)
	Debug(ctx, "synth", "dropped")

	output := buf.String()
	if !strings.Contains(output, "[coordinator] DEBUG: [scene] kept 1") {
		t.Errorf("Expected scene debug line, got: %s", output)
	}
	if strings.Contains(output, "dropped") {
		t.Errorf("Expected synth domain to be filtered, got: %s", output)
	}
	if !IsDebugEnabledForDomain("scene") || IsDebugEnabledForDomain("synth") {
		t.Error("Domain filter not applied")
	}
}

func TestJSONFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	setupTestLogger(t, Options{FilePath: path})

	NewLogger("pipeline").Warn("outline invalid")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", data, err)
	}
	if rec["msg"] != "outline invalid" || rec["component"] != "pipeline" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestRecentEntries(t *testing.T) {
	setupTestLogger(t, Options{})
	start := time.Now().Add(-time.Second)

	NewLogger("jobs-abc").Error("failed: %s", "boom")

	entries := RecentEntries("jobs", start)
	if len(entries) == 0 {
		t.Fatal("Expected buffered entry")
	}
	last := entries[len(entries)-1]
	if last.Level != string(LevelError) || last.Message != "failed: boom" {
		t.Errorf("unexpected entry: %+v", last)
	}
}

func TestRingBufferBounded(t *testing.T) {
	b := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		b.add(LogEntry{Component: "x", Message: string(rune('a' + i))})
	}
	got := b.Entries("", time.Time{})
	if len(got) != 3 || got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("unexpected ring contents: %+v", got)
	}
}

func TestWrap(t *testing.T) {
	setupTestLogger(t, Options{})

	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	base := os.ErrNotExist
	err := Wrap(base, "open outline")
	if err == nil || !strings.Contains(err.Error(), "open outline: ") {
		t.Fatalf("unexpected wrap: %v", err)
	}
	if !errors.Is(err, base) {
		t.Error("Wrap should preserve the cause")
	}
}
