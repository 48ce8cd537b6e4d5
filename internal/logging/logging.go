// logging.go - Structured logging for the pool daemon
//
// The process logger writes to the console and, when configured, to a
// rotated file. The audit logger is a separate rotated file that receives
// admin actions and every WARN-or-worse record.
package logging

import (
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options mirrors the log section of the daemon config.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	JSON       bool
	AuditFile  string
	// Console receives the human-readable stream; nil means stderr.
	Console io.Writer
}

// Loggers holds the process and audit loggers and the files behind them.
type Loggers struct {
	Log   zerolog.Logger
	Audit zerolog.Logger

	closers []io.Closer
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func rotated(path string, o Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   true,
	}
}

// New builds the loggers described by o and routes gnark's own logging
// through the process logger at debug level.
func New(o Options) *Loggers {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := &Loggers{Audit: zerolog.Nop()}

	console := o.Console
	if console == nil {
		console = os.Stderr
	}
	if !o.JSON {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{console}
	if o.File != "" {
		f := rotated(o.File, o)
		l.closers = append(l.closers, f)
		writers = append(writers, f)
	}

	var audit io.Writer
	if o.AuditFile != "" {
		f := rotated(o.AuditFile, o)
		l.closers = append(l.closers, f)
		audit = f
		l.Audit = zerolog.New(f).With().Timestamp().Str("stream", "audit").Logger()
	}

	out := zerolog.MultiLevelWriter(writers...)
	if audit != nil {
		out = zerolog.MultiLevelWriter(out, warnOnly{audit})
	}
	l.Log = zerolog.New(out).Level(ParseLevel(o.Level)).With().Timestamp().Logger()

	gnarklogger.Set(l.Log.With().Str("component", "gnark").Logger().Level(zerolog.WarnLevel))
	return l
}

// Close flushes and closes the rotated files.
func (l *Loggers) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// warnOnly forwards WARN and above.
type warnOnly struct {
	w io.Writer
}

func (w warnOnly) Write(p []byte) (int, error) { return len(p), nil }

func (w warnOnly) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return w.w.Write(p)
}
