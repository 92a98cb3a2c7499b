// Package logging provides the zerolog-based three-tier logging used across
// the scanner: debug.log (everything), info.log (info and above) and
// unified.log (info and above with request noise filtered out).
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Dir is the directory for the three log files. Empty disables file
	// output (console only).
	Dir string

	// Level is the minimum log level: debug, info, warn, error.
	// Default: info. File tiers apply their own thresholds on top.
	Level string

	// Verbose tees a console writer on stderr at debug level.
	Verbose bool

	// Keep is the number of rotated daily files kept per tier. Default: 7.
	Keep int
}

var (
	log zerolog.Logger

	mu sync.RWMutex

	// files opened by Init, closed by Close.
	openFiles []io.Closer
)

//nolint:gochecknoinits // logging must work before explicit Init()
func init() {
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// Init configures the global logger. Safe to call multiple times; each call
// closes files opened by the previous one.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	closeFiles()

	if cfg.Keep <= 0 {
		cfg.Keep = 7
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}

	zerolog.TimeFieldFormat = time.RFC3339
	// Global level stays at debug so the debug tier sees everything;
	// the other tiers gate per event.
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var writers []io.Writer

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return err
		}

		debugFile, err := newRotatingWriter(filepath.Join(cfg.Dir, "debug.log"), cfg.Keep)
		if err != nil {
			return err
		}
		infoFile, err := newRotatingWriter(filepath.Join(cfg.Dir, "info.log"), cfg.Keep)
		if err != nil {
			debugFile.Close()
			return err
		}
		unifiedFile, err := newRotatingWriter(filepath.Join(cfg.Dir, "unified.log"), cfg.Keep)
		if err != nil {
			debugFile.Close()
			infoFile.Close()
			return err
		}
		openFiles = []io.Closer{debugFile, infoFile, unifiedFile}

		writers = append(writers,
			&tierWriter{w: debugFile, min: zerolog.DebugLevel},
			&tierWriter{w: infoFile, min: zerolog.InfoLevel},
			&tierWriter{w: newNoiseFilter(unifiedFile), min: zerolog.InfoLevel},
		)
	}

	if cfg.Verbose || cfg.Dir == "" {
		consoleMin := parseLevel(cfg.Level)
		if cfg.Verbose {
			consoleMin = zerolog.DebugLevel
		}
		console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		writers = append(writers, &tierWriter{w: console, min: consoleMin})
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// Close flushes and closes the log files.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFiles()
}

func closeFiles() {
	for _, f := range openFiles {
		_ = f.Close()
	}
	openFiles = nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// tierWriter drops events below its minimum level.
type tierWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (t *tierWriter) Write(p []byte) (int, error) {
	return t.w.Write(p)
}

func (t *tierWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < t.min {
		return len(p), nil
	}
	if lw, ok := t.w.(zerolog.LevelWriter); ok {
		return lw.WriteLevel(level, p)
	}
	return t.w.Write(p)
}

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger. Useful for tests.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// With creates a child logger context with additional default fields.
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return log.With()
}

// Debug starts a new message with debug level.
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Debug()
}

// Info starts a new message with info level.
func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Info()
}

// Warn starts a new message with warning level.
func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Warn()
}

// Error starts a new message with error level.
func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Error()
}

// Err starts a new error-level message with the error attached.
func Err(err error) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return log.Err(err)
}

// NewTestLogger creates a logger that writes to the provided writer.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
