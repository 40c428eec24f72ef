// Package logger provides the leveled logging utility used throughout
// the windrow engine. It wraps the standard `log` package and filters
// messages against a globally configured level.
package logger

import (
	"fmt"
	"log"
	"strings"
)

// LogLevel represents a logging severity. Lower values are more verbose.
type LogLevel int

const (
	// LevelDebug emits detailed diagnostic output such as per-chunk progress.
	LevelDebug LogLevel = iota
	// LevelInfo emits run lifecycle events.
	LevelInfo
	// LevelWarn emits recoverable anomalies such as retried or skipped items.
	LevelWarn
	// LevelError emits failures that affect a run's outcome.
	LevelError
	// LevelFatal emits unrecoverable failures and terminates the process.
	LevelFatal
)

// logLevel is the current global level. Messages below it are discarded.
var logLevel = LevelInfo

// SetLogLevel sets the global log level from its string form.
// Valid values are "DEBUG", "INFO", "WARN", "ERROR" and "FATAL"
// (case-insensitive); anything else falls back to INFO with a notice.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "INFO":
		logLevel = LevelInfo
	case "WARN":
		logLevel = LevelWarn
	case "ERROR":
		logLevel = LevelError
	case "FATAL":
		logLevel = LevelFatal
	case "DEBUG":
		logLevel = LevelDebug
	default:
		fmt.Printf("Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		logLevel = LevelInfo
	}
}

// Debugf formats and outputs a DEBUG level message.
func Debugf(format string, v ...interface{}) {
	if logLevel <= LevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Infof formats and outputs an INFO level message.
func Infof(format string, v ...interface{}) {
	if logLevel <= LevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

// Warnf formats and outputs a WARN level message.
func Warnf(format string, v ...interface{}) {
	if logLevel <= LevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

// Errorf formats and outputs an ERROR level message.
func Errorf(format string, v ...interface{}) {
	if logLevel <= LevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf formats and outputs a FATAL level message, then terminates the
// process via os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
