// Package logger provides category loggers for phusage. Each logger is a
// logrus entry tagged with the component it belongs to, so a single process
// log can be filtered by category (API requests, storage, CLI, ...).
package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const moduleName = "PHUSAGE"

var (
	initOnce sync.Once

	// MainLog covers process lifecycle: startup, shutdown, store selection.
	MainLog = newCategory("MAIN")

	// CfgLog is used while loading and validating configuration.
	CfgLog = newCategory("CFG")

	// APILog is for HTTP request handling.
	APILog = newCategory("API")

	// StoreLog is for persistence: PostgreSQL, SQLite, Redis and memory stores.
	StoreLog = newCategory("STORE")

	// EngineLog is used by the report service around engine invocations.
	EngineLog = newCategory("ENGINE")

	// CLILog is for command line sub-commands.
	CLILog = newCategory("CLI")
)

func newCategory(category string) *log.Entry {
	return log.WithFields(log.Fields{
		"module":   moduleName,
		"category": category,
	})
}

// InitLog configures the global formatter once and applies the level and
// caller reporting on every call. An unknown level falls back to info and is
// returned as an error.
func InitLog(levelString string, reportCaller bool) error {
	initOnce.Do(func() {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	})

	var initErr error
	level, err := ParseLevel(levelString)
	if err != nil {
		CfgLog.Warnf("invalid log level %q, falling back to info: %v", levelString, err)
		initErr = err
	}
	log.SetLevel(level)
	log.SetReportCaller(reportCaller)
	return initErr
}

// SetOutput redirects every category logger.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// ParseLevel converts a case-insensitive level name into a logrus level.
func ParseLevel(levelString string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelString)) {
	case "trace":
		return log.TraceLevel, nil
	case "debug":
		return log.DebugLevel, nil
	case "info", "":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	case "panic":
		return log.PanicLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("unknown log level: %s", levelString)
	}
}
