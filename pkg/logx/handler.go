package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// lineHandler renders records as "[ts] [component] LEVEL: message".
type lineHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

func newLineHandler(w io.Writer, level slog.Level) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	component := "system"
	var extra []string
	visit := func(a slog.Attr) bool {
		switch a.Key {
		case componentKey:
			component = a.Value.String()
		case domainKey:
		default:
			extra = append(extra, a.Key+"="+a.Value.String())
		}
		return true
	}
	for _, a := range h.attrs {
		visit(a)
	}
	r.Attrs(visit)

	line := fmt.Sprintf("[%s] [%s] %s: %s", r.Time.UTC().Format(timestampFormat), component, levelName(r.Level), r.Message)
	if len(extra) > 0 {
		line += " " + strings.Join(extra, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &lineHandler{mu: h.mu, w: h.w, level: h.level, attrs: merged}
}

func (h *lineHandler) WithGroup(_ string) slog.Handler {
	return h
}

func levelName(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// LogEntry is a buffered log record.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// RingBuffer keeps the most recent log entries.
type RingBuffer struct {
	entries []LogEntry
	mu      sync.RWMutex
	maxSize int
}

func NewRingBuffer(maxSize int) *RingBuffer {
	return &RingBuffer{maxSize: maxSize}
}

func (b *RingBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Entries returns a copy of the buffered entries, optionally filtered by
// component prefix and minimum timestamp.
func (b *RingBuffer) Entries(component string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		e := b.entries[i]
		if component != "" && !strings.HasPrefix(e.Component, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampFormat, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (b *RingBuffer) handler(level slog.Level) slog.Handler {
	return &bufferHandler{buf: b, level: level}
}

type bufferHandler struct {
	buf   *RingBuffer
	level slog.Level
	attrs []slog.Attr
}

func (h *bufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *bufferHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp: r.Time.UTC().Format(timestampFormat),
		Level:     string(levelName(r.Level)),
		Message:   r.Message,
	}
	visit := func(a slog.Attr) bool {
		switch a.Key {
		case componentKey:
			entry.Component = a.Value.String()
		case domainKey:
			entry.Domain = a.Value.String()
		}
		return true
	}
	for _, a := range h.attrs {
		visit(a)
	}
	r.Attrs(visit)
	h.buf.add(entry)
	return nil
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &bufferHandler{buf: h.buf, level: h.level, attrs: merged}
}

func (h *bufferHandler) WithGroup(_ string) slog.Handler {
	return h
}

// RecentEntries returns recent buffered log entries.
func RecentEntries(component string, since time.Time) []LogEntry {
	return buffer.Entries(component, since)
}
