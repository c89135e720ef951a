package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/shrinker/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// Component names used across the shrinker
const (
	ComponentGraph       = "GRAPH"
	ComponentCollector   = "COLLECT"
	ComponentResolver    = "RESOLVE"
	ComponentEngine      = "ENGINE"
	ComponentFull        = "FULL"
	ComponentIncremental = "INCREMENTAL"
	ComponentInputs      = "INPUTS"
	ComponentWatch       = "WATCH"
	ComponentStorage     = "STORAGE"
	ComponentExport      = "EXPORT"
)

var (
	// debugMutex protects the process logger
	debugMutex sync.RWMutex

	// rootLogger is the handler every component logger derives from
	rootLogger = newLogger(os.Stderr, false, defaultLevel())
)

// Options configures the process-wide logger
type Options struct {
	Output io.Writer
	JSON   bool
	Level  slog.Level
}

func defaultLevel() slog.Level {
	if IsDebugEnabled() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func newLogger(w io.Writer, jsonFormat bool, level slog.Level) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Configure replaces the process logger
func Configure(opts Options) {
	level := opts.Level
	if IsDebugEnabled() && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logger := newLogger(opts.Output, opts.JSON, level)

	debugMutex.Lock()
	rootLogger = logger
	debugMutex.Unlock()
}

// SetDebugOutput sends all log output to w at debug level.
// Pass nil to disable output entirely.
func SetDebugOutput(w io.Writer) {
	Configure(Options{Output: w, Level: slog.LevelDebug})
}

// IsDebugEnabled returns true if debug mode is enabled
func IsDebugEnabled() bool {
	// Check build flag first
	if EnableDebug == "true" {
		return true
	}

	// Allow runtime override via environment variable
	v := os.Getenv("DEBUG")
	return v == "1" || strings.EqualFold(v, "true")
}

// Root returns the process logger
func Root() *slog.Logger {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return rootLogger
}

// Logger returns a logger tagged with a component name
func Logger(component string) *slog.Logger {
	return Root().With(slog.String("component", component))
}

// Log provides printf-style debug logging with component names
func Log(component, format string, args ...interface{}) {
	logger := Root()
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	logger.Debug(strings.TrimRight(fmt.Sprintf(format, args...), "\n"), slog.String("component", component))
}

// Printf prints debug information without a component tag
func Printf(format string, args ...interface{}) {
	Log("", format, args...)
}
