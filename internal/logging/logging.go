// Package logging provides the zerolog-backed implementation of the
// key-value Logger interface the services accept.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger adapts zerolog to the variadic key-value logging interface
// used across the codebase.
type Logger struct {
	log zerolog.Logger
}

// Config controls logger construction.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Unknown values
	// fall back to info.
	Level string `json:"level" mapstructure:"level"`
	// Pretty switches to the human-readable console writer.
	Pretty bool `json:"pretty" mapstructure:"pretty"`
}

// New creates a logger writing JSON (or pretty console output) to w.
func New(w io.Writer, cfg Config) *Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	level := parseLevel(cfg.Level)
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{log: log}
}

// NewDefault creates an info-level JSON logger on stderr.
func NewDefault() *Logger {
	return New(os.Stderr, Config{Level: "info"})
}

// Nop creates a logger that discards everything.
func Nop() *Logger {
	return &Logger{log: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{log: l.log.With().Str("component", component).Logger()}
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.emit(l.log.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.emit(l.log.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.emit(l.log.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.emit(l.log.Error(), msg, fields)
}

// emit attaches alternating key-value pairs to the event. A trailing
// key without a value is logged under "extra".
func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		event = event.Interface(key, fields[i+1])
	}
	if len(fields)%2 == 1 {
		event = event.Interface("extra", fields[len(fields)-1])
	}
	event.Msg(msg)
}
