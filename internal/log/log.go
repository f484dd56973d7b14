// Package log is the process-wide structured logger: logrus under a
// pattern-based line formatter, with optional lumberjack-rotated file
// output (SPEC_FULL.md §A.1/§B.3).
package log

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool

	// Entry exposes the underlying *logrus.Entry, for packages (the
	// orchestrator and everything it owns) that want logrus's own
	// field-chaining API rather than this interface.
	Entry() *logrus.Entry
}

// Config is the ambient logging configuration threaded from
// internal/config.Config (SPEC_FULL.md §A.2) into Init.
type Config struct {
	Level  string // trace/debug/info/warn/error
	Format string // "text" (default) or "json"
	File   string // optional lumberjack-rotated file path; empty = stdout only
}

var (
	once   sync.Once
	logger Logger
)

// GetLogger returns the process-wide singleton. Only meaningful after Init.
func GetLogger() Logger {
	return logger
}

// Init configures the process-wide singleton. Only the first call takes
// effect; later calls are no-ops.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		err = initByConfig(cfg)
	})
	return err
}
