package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilePrefix(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"Pythagorean Theorem", "pythagorean_theorem"},
		{"Fourier Series: An Intro!", "fourier_series_an_intro_"},
		{"already_ok_123", "already_ok_123"},
		{"Élan vital", "_lan_vital"},
	}
	for _, tt := range tests {
		if got := FilePrefix(tt.topic); got != tt.want {
			t.Errorf("FilePrefix(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("héllo", 2); got != "h" {
		t.Errorf("Truncate should not split a rune, got %q", got)
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gemini-2.5-pro")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}
	if n := counter.CountTokens(""); n != 0 {
		t.Errorf("empty text = %d tokens", n)
	}
	n := counter.CountTokens(strings.Repeat("word ", 100))
	if n < 90 || n > 110 {
		t.Errorf("expected ~100 tokens, got %d", n)
	}
	if CountTokensSimple("Hello world") < 2 {
		t.Error("CountTokensSimple undercounted")
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, _ := NewTokenCounter("x")
	long := strings.Repeat("alpha beta ", 500)
	out := counter.TruncateToTokenLimit(long, 50)
	if !strings.HasSuffix(out, "...") || len(out) >= len(long) {
		t.Errorf("expected truncation, got %d chars", len(out))
	}
}

func TestWriteFileAtomicAndRemoveMatching(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"scene1/a.mp4", "scene2/b.mp4", "scene2/keep.py"} {
		if err := WriteFileAtomic(filepath.Join(root, p), []byte("x")); err != nil {
			t.Fatalf("WriteFileAtomic: %v", err)
		}
	}
	if !FileExists(filepath.Join(root, "scene2", "keep.py")) {
		t.Fatal("expected file to exist")
	}

	n, err := RemoveMatching(root, "*.mp4")
	if err != nil || n != 2 {
		t.Fatalf("RemoveMatching = %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(root, "scene2", "keep.py")); err != nil {
		t.Error("non-matching file was removed")
	}
	if n, err := RemoveMatching(filepath.Join(root, "missing"), "*.mp4"); err != nil || n != 0 {
		t.Errorf("missing root: %d, %v", n, err)
	}
}

func TestTruncateTailToTokenLimit(t *testing.T) {
	text := "HEAD " + strings.Repeat("frame line ", 500) + "NameError: tail"
	out := TruncateTailTokens(text, 50)
	if !strings.HasPrefix(out, "...") || !strings.HasSuffix(out, "NameError: tail") {
		t.Errorf("expected the tail to survive, got %q", out)
	}
	if strings.Contains(out, "HEAD") || CountTokensSimple(out) > 50 {
		t.Errorf("expected at most 50 tokens without the head, got %d", CountTokensSimple(out))
	}
	if got := TruncateTokens("short", 50); got != "short" {
		t.Errorf("short text changed: %q", got)
	}
}
