package log

import "gopkg.in/natefinch/lumberjack.v2"

// Rotation defaults for relayd's log file appender (SPEC_FULL.md §B.3).
// relayd is a long-lived foreground process; without rotation a verbose
// deployment (debug level, many peers) would grow its log file without
// bound.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// FileAppenderOpt configures the rotating file appender added by
// AddFileAppender. mapstructure tags let it be decoded directly from a
// config file section if relayd ever grows one; today it is only built
// from Config.File with the package defaults.
type FileAppenderOpt struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AddFileAppender attaches a lumberjack-backed rotating file writer and
// returns m for chaining.
func (m *MultiWriter) AddFileAppender(opt FileAppenderOpt) *MultiWriter {
	return m.Add(&lumberjack.Logger{
		Filename:   opt.Filename,
		MaxSize:    opt.MaxSize,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAge,
		Compress:   opt.Compress,
	})
}
