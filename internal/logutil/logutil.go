package logutil

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger  = log.NewWithOptions(os.Stderr, log.Options{Prefix: "xpostd", ReportTimestamp: true, Level: log.InfoLevel})
	verbose bool
	mu      sync.RWMutex
)

// SetVerbose adjusts the global logging level.
func SetVerbose(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = enable
	if enable {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

// SetLevel parses a level name ("debug", "info", "warn", "error").
// Unknown names leave the current level untouched.
func SetLevel(name string) {
	level, err := log.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	verbose = level <= log.DebugLevel
	logger.SetLevel(level)
}

// SetFile mirrors log output into a size-rotated file.
func SetFile(path string) io.Closer {
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, rotated))
	return rotated
}

// Verbose reports whether verbose logging is enabled.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...any) *log.Logger {
	return logger.With(keyvals...)
}

// Debugf logs a debug message when verbose logging is enabled.
func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Infof logs an informational message.
func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

// DebugWriter returns a writer that logs each write as one debug entry, for
// libraries that only accept an io.Writer.
func DebugWriter() io.Writer {
	return logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer()
}
