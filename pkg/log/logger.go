package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	tferrors "github.com/YuminosukeSato/tabflow/pkg/errors"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Empty means "info".
	Level string

	// File, when set, additionally writes JSON lines to a rotating log file.
	File string

	// Console switches stderr output to zerolog's human-readable console format.
	Console bool

	// Writer replaces stderr as the primary output. Used by tests.
	Writer io.Writer
}

var (
	mu  sync.RWMutex
	std Logger = newZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
)

// SetupLogger builds a zerolog-backed Logger from opts, installs it as the global
// logger and routes pkg/errors warnings through it.
func SetupLogger(opts Options) (Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var primary io.Writer = os.Stderr
	if opts.Writer != nil {
		primary = opts.Writer
	}
	if opts.Console {
		primary = zerolog.ConsoleWriter{Out: primary, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{primary}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    32, // megabytes
			MaxBackups: 8,
			MaxAge:     15, // days
			Compress:   true,
		})
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(toZerologLevel(level)).
		With().Timestamp().Logger()
	logger := newZerologLogger(zl)

	SetLogger(logger)
	tferrors.SetZerologWarnFunc(func(w error) {
		ev := zl.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		ev.Msg(w.Error())
	})
	return logger, nil
}

// GetLogger returns the global logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// SetLogger replaces the global logger.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	std = l
}

// ParseLevel converts a config string to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, tferrors.NewValidationError("log.level", "must be one of debug, info, warn, error", level)
	}
}

func toZerologLevel(l Level) zerolog.Level {
	switch {
	case l <= LevelDebug:
		return zerolog.DebugLevel
	case l <= LevelInfo:
		return zerolog.InfoLevel
	case l <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

func newZerologLogger(zl zerolog.Logger) *zerologLogger {
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { l.emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { l.emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { l.emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	kv, _ := splitFields(fields)
	return &zerologLogger{zl: l.zl.With().Fields(kv).Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= l.zl.GetLevel()
}

func (l *zerologLogger) emit(ev *zerolog.Event, msg string, fields []any) {
	if ev == nil {
		return
	}
	kv, err := splitFields(fields)
	if err != nil {
		ev = ev.Str(ErrorKey, err.Error())
		if m, ok := errors.UnwrapAll(err).(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		if st := extractStacktrace(err); st != "" {
			ev = ev.Str(StacktraceKey, st)
		}
	}
	if len(kv) > 0 {
		ev = ev.Fields(kv)
	}
	ev.Msg(msg)
}

// splitFields separates a leading error from the key/value pairs and stringifies
// keys. A dangling key without a value is dropped.
func splitFields(fields []any) ([]any, error) {
	var err error
	if len(fields) > 0 {
		if e, ok := fields[0].(error); ok {
			err = e
			fields = fields[1:]
		}
	}
	kv := make([]any, 0, len(fields))
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		value := fields[i+1]
		if e, ok := value.(error); ok {
			value = e.Error()
		}
		kv = append(kv, key, value)
	}
	return kv, err
}

// extractStacktrace returns the first safe detail recorded by cockroachdb/errors,
// which is the formatted stack for errors created with WithStack.
func extractStacktrace(err error) string {
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		if details := errors.GetSafeDetails(e).SafeDetails; len(details) > 0 {
			return details[0]
		}
	}
	return ""
}
