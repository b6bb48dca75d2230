// Package logging wraps zerolog with the printf-style API used across the
// service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/thediveo/enumflag/v2"
)

type Level enumflag.Flag

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelIds maps levels to their textual names, for flags and config files.
var LevelIds = map[Level][]string{
	LevelDebug: {"debug"},
	LevelInfo:  {"info"},
	LevelWarn:  {"warn", "warning"},
	LevelError: {"error"},
}

func (l Level) String() string {
	if ids, ok := LevelIds[l]; ok {
		return ids[0]
	}
	return "unknown"
}

// ParseLevel maps a level name to a Level. The empty string is info.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelInfo, nil
	}
	for l, ids := range LevelIds {
		for _, id := range ids {
			if strings.EqualFold(id, s) {
				return l, nil
			}
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type Config struct {
	Level  Level
	Format string // "json" (default) or "console"
	Output io.Writer
}

type Logger struct {
	log zerolog.Logger
}

func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02T15:04:05Z07:00", NoColor: true}
	}

	return &Logger{log: zerolog.New(out).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()}
}

// NewNop returns a logger discarding everything.
func NewNop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

// With returns a child logger annotating every entry with key=value.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{log: l.log.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
