// Package logging provides structured logging for every component of
// pti, backed by zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level names a logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

// Logger wraps a zerolog.Logger with a small, stable API so callers
// don't depend on zerolog's event-builder type directly.
type Logger struct {
	logger zerolog.Logger
}

func buildOutput(cfg Config) io.Writer {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Format == FormatText {
		return zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}
	return cfg.Output
}

func levelOf(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	zlog := zerolog.New(buildOutput(cfg)).With().Timestamp().Logger().Level(levelOf(cfg.Level))
	return &Logger{logger: zlog}
}

// InitGlobal points the package-level zerolog/log logger (and the
// convenience funcs below) at cfg.
func InitGlobal(cfg Config) {
	log.Logger = zerolog.New(buildOutput(cfg)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(levelOf(cfg.Level))
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(l.logger.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(l.logger.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(l.logger.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(l.logger.Error(), msg, fields) }
func (l *Logger) Fatal(msg string, fields ...interface{}) { l.log(l.logger.Fatal(), msg, fields) }

func (l *Logger) log(event *zerolog.Event, msg string, fields []interface{}) {
	addFields(event, fields...)
	event.Msg(msg)
}

// WithField returns a child logger with one extra field attached to
// every subsequent event.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger with several extra fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{logger: ctx.Logger()}
}

func addFields(event *zerolog.Event, fields ...interface{}) {
	if len(fields)%2 != 0 {
		event.Str("error", "odd number of log fields")
		return
	}
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			event.Str("error", fmt.Sprintf("log field key at index %d is not a string", i))
			continue
		}
		event.Interface(key, fields[i+1])
	}
}

// Zerolog exposes the underlying zerolog.Logger for callers that need
// to pass it to a third-party library expecting one directly.
func (l *Logger) Zerolog() zerolog.Logger { return l.logger }

// Package-level convenience functions, using the global logger set by
// InitGlobal (or zerolog's own default before that's called).

func Debug(msg string) { log.Debug().Msg(msg) }
func Info(msg string)  { log.Info().Msg(msg) }
func Warn(msg string)  { log.Warn().Msg(msg) }
func Error(msg string) { log.Error().Msg(msg) }
func Fatal(msg string) { log.Fatal().Msg(msg) }
