package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used as the "component" attribute on every record.
const (
	CompCoordinator = "coordinator"
	CompSession     = "session"
	CompSignal      = "signal"
	CompTranscript  = "transcript"
	CompChat        = "chat"
	CompTmux        = "tmux"
	CompConfig      = "config"
)

// LogFileName is the active log file inside Config.LogDir.
const LogFileName = "bridge.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.ccterm/logs)
	LogDir string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	// Compress rotated files
	Compress bool

	// Stderr mirrors every record to stderr (foreground runs)
	Stderr bool

	// RingBufferSize is the in-memory crash buffer size in bytes (default: 4MB)
	RingBufferSize int

	// AggregateIntervalSecs is the event_summary flush interval (default: 60)
	AggregateIntervalSecs int

	// PprofAddr starts a pprof server on this address when non-empty
	PprofAddr string
}

var (
	globalLogger *slog.Logger
	globalRing   *RingBuffer
	globalAgg    *Aggregator
	globalMu     sync.RWMutex
	rotator      *lumberjack.Logger
)

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init initializes the global logging system.
// With neither a log dir nor stderr mirroring, records are discarded.
func Init(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 4 * 1024 * 1024
	}
	if cfg.AggregateIntervalSecs <= 0 {
		cfg.AggregateIntervalSecs = 60
	}

	if cfg.LogDir == "" && !cfg.Stderr {
		globalLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		globalRing = NewRingBuffer(1024)
		globalAgg = NewAggregator(nil, cfg.AggregateIntervalSecs)
		return
	}

	globalRing = NewRingBuffer(cfg.RingBufferSize)
	writers := []io.Writer{globalRing}
	if cfg.LogDir != "" {
		_ = os.MkdirAll(cfg.LogDir, 0o755)
		rotator = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, LogFileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotator)
	}
	if cfg.Stderr {
		writers = append(writers, os.Stderr)
	}
	out := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	globalLogger = slog.New(handler)

	globalAgg = NewAggregator(globalLogger, cfg.AggregateIntervalSecs)
	globalAgg.Start()

	if cfg.PprofAddr != "" {
		startPprof(cfg.PprofAddr)
	}
}

// Logger returns the global logger. Safe to call before Init.
func Logger() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return globalLogger
}

// ForComponent returns a logger tagged with the component name.
// The handler is looked up at log time, so package-level loggers created
// before Init still write to the configured destination.
func ForComponent(name string) *slog.Logger {
	return slog.New(&dynamicHandler{component: name})
}

type dynamicHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	return handler.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &dynamicHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return &dynamicHandler{component: h.component, attrs: h.attrs, group: name}
}

// Aggregate counts a high-frequency event; counts are emitted as
// event_summary records on the aggregation interval.
func Aggregate(component, key string, fields ...slog.Attr) {
	globalMu.RLock()
	agg := globalAgg
	globalMu.RUnlock()
	if agg != nil {
		agg.Record(component, key, fields...)
	}
}

// DumpRingBuffer writes the most recent log records to path.
func DumpRingBuffer(path string) error {
	globalMu.RLock()
	ring := globalRing
	globalMu.RUnlock()
	if ring == nil {
		return nil
	}
	return ring.DumpToFile(path)
}

// Shutdown flushes the aggregator and closes the rotating file.
func Shutdown() {
	globalMu.Lock()
	agg := globalAgg
	globalAgg = nil
	globalMu.Unlock()

	// Stop outside the lock: the final flush logs through Logger().
	if agg != nil {
		agg.Stop()
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
	globalLogger = nil
	globalRing = nil
}
