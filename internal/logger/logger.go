package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var Log *slog.Logger

var (
	onceMu   sync.Mutex
	onceSeen = make(map[string]bool)
)

// WarnOncePerKey logs at warn level the first time it's called for a
// given key, and silently drops every later call for the same key, so a
// condition that recurs on every scan logs one line rather than one per
// poll tick.
func WarnOncePerKey(key, msg string, args ...any) {
	onceMu.Lock()
	seen := onceSeen[key]
	if !seen {
		onceSeen[key] = true
	}
	onceMu.Unlock()
	if !seen {
		Log.Warn(msg, args...)
	}
}

// ResetOnceKeys clears the dedup set; exposed for tests that exercise
// WarnOncePerKey across independent scenarios.
func ResetOnceKeys() {
	onceMu.Lock()
	onceSeen = make(map[string]bool)
	onceMu.Unlock()
}

// Init initializes the global logger
func Init(level string, logFile string) error {
	// Parse log level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelDebug
	}

	// Set up multi-writer (stdout + file)
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	// Create handler with custom options
	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
