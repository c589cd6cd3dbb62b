// Package logx provides leveled component logging with context-aware domain debug logging.
//
// Every Logger writes through a shared slog handler fanout: a line handler that renders
// "[ts] [component] LEVEL: message" to stderr, an optional JSON file handler, and an
// in-memory ring buffer served by the HTTP API.
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// componentKey is the slog attribute carrying the component name.
const componentKey = "component"

// domainKey is the slog attribute carrying the debug domain.
const domainKey = "domain"

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is a component-scoped logger.
type Logger struct {
	component string
}

// Options configures the process-wide log sinks.
type Options struct {
	// Writer receives human-readable lines. Defaults to os.Stderr.
	Writer io.Writer
	// FilePath, when set, receives JSON records.
	FilePath string
	// Debug enables debug output.
	Debug bool
	// DebugDomains restricts debug output to these domains (empty means all).
	DebugDomains []string
}

type debugConfig struct {
	enabled bool
	domains map[string]bool
}

var (
	mu      sync.RWMutex
	root    *slog.Logger
	debug   debugConfig
	logFile *os.File
	buffer  = NewRingBuffer(1000)
)

func init() { //nolint:gochecknoinits // env driven defaults
	opts := Options{}
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		opts.Debug = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		opts.DebugDomains = strings.Split(domains, ",")
	}
	if err := Configure(opts); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
}

// Configure replaces the process-wide sinks. It is safe to call more than once.
func Configure(opts Options) error {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		newLineHandler(w, level),
		buffer.handler(level),
	}

	var file *os.File
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	var domains map[string]bool
	if len(opts.DebugDomains) > 0 {
		domains = make(map[string]bool, len(opts.DebugDomains))
		for _, d := range opts.DebugDomains {
			if d = strings.TrimSpace(d); d != "" {
				domains[d] = true
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	root = slog.New(slogmulti.Fanout(handlers...))
	debug = debugConfig{enabled: opts.Debug, domains: domains}
	return nil
}

// Close flushes and closes the JSON log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// IsDebugEnabled reports whether debug logging is on.
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debug.enabled
}

// IsDebugEnabledForDomain reports whether debug logging is on for domain.
func IsDebugEnabledForDomain(domain string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !debug.enabled {
		return false
	}
	if debug.domains == nil {
		return true
	}
	return debug.domains[domain]
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) GetComponent() string {
	return l.component
}

// With returns a logger for a sub-component, e.g. "scene" -> "scene-3".
func (l *Logger) With(suffix string) *Logger {
	return &Logger{component: l.component + "-" + suffix}
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	current().Log(context.Background(), level, fmt.Sprintf(format, args...), componentKey, l.component)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(slog.LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

type ctxKey struct{}

// WithComponent stores a component name in ctx for Debug.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, ctxKey{}, component)
}

// Debug logs a debug message for a domain, using the component stored in ctx.
//
// Environment variable control:
//
//	DEBUG=1                          # all domains
//	DEBUG=1 DEBUG_DOMAINS=scene      # only the scene loop
//	DEBUG=1 DEBUG_DOMAINS=scene,synth
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if c, ok := ctx.Value(ctxKey{}).(string); ok {
			component = c
		}
	}
	current().Log(context.Background(), slog.LevelDebug,
		fmt.Sprintf("[%s] %s", domain, fmt.Sprintf(format, args...)),
		componentKey, component, domainKey, domain)
}

// DebugState logs a state transition for a domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
