// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zap levels backing each method.  Verbose and debug sit below zap's own
// DebugLevel so that the level encoder can tell them apart.
const (
	zapDebug   = zapcore.DebugLevel - 1
	zapVerbose = zapcore.DebugLevel
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Output goes through a zap console core.
type Logger struct {
	level LogLevel

	mu         sync.Mutex
	output     io.Writer
	timestamps bool
	z          *zap.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = on
	l.rebuild()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
	l.rebuild()
}

// SetRotatingFile sends output to a size-rotated log file.
func (l *Logger) SetRotatingFile(path string, maxSizeMB int) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	l.SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     7,
	})
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	l.mu.Lock()
	z := l.z
	l.mu.Unlock()
	return z.Sync()
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zapVerbose, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(zapDebug, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zapcore.ErrorLevel, format, args...)
}

func (l *Logger) write(lvl zapcore.Level, format string, args ...interface{}) {
	l.mu.Lock()
	z := l.z
	l.mu.Unlock()
	if ce := z.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

// rebuild swaps in a new zap core.  Callers hold l.mu (or own l exclusively).
func (l *Logger) rebuild() {
	enc := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      encodeLevel,
		ConsoleSeparator: " ",
	}
	if l.timestamps {
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}
	// Gating happens in the public methods; the core accepts everything.
	all := zap.LevelEnablerFunc(func(zapcore.Level) bool { return true })
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(l.output)), all)
	l.z = zap.New(core)
}

func encodeLevel(lvl zapcore.Level, pae zapcore.PrimitiveArrayEncoder) {
	switch {
	case lvl <= zapDebug:
		pae.AppendString("[DBG]")
	case lvl == zapVerbose:
		pae.AppendString("[VRB]")
	case lvl == zapcore.InfoLevel:
		pae.AppendString("[INF]")
	case lvl == zapcore.WarnLevel:
		pae.AppendString("[WRN]")
	default:
		pae.AppendString("[ERR]")
	}
}
