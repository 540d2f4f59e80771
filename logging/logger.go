// Package logging provides structured logging on top of log/slog.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/c0deZ3R0/go-rental-sync/errors"
)

// Logger is our wrapper around slog.Logger with additional convenience methods
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format      string `json:"format" yaml:"format"`           // text, json
	AddSource   bool   `json:"add_source" yaml:"add_source"`   // whether to add source code information
	Environment string `json:"environment" yaml:"environment"` // development, production, test
}

// Default configuration
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: EnvProduction,
}

var defaultLogger *Logger

// Operation is a log attribute naming the operation being performed.
type Operation string

func (o Operation) LogValue() slog.Value {
	return slog.StringValue(string(o))
}

// Component is a log attribute naming the emitting component.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

// ErrorValuer provides structured logging for *errors.Error.
type ErrorValuer struct {
	*errors.Error
}

func (e ErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("kind", e.Kind.String()),
		slog.Bool("retryable", e.Retryable),
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", string(e.Code)))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	if e.Metadata != nil {
		metadataAttrs := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			metadataAttrs = append(metadataAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Any("metadata", slog.GroupValue(metadataAttrs...)))
	}

	return slog.GroupValue(attrs...)
}

// LevelTrace is below debug. The pubsub hub logs its per-message chatter
// at this level.
const LevelTrace = slog.LevelDebug - 4

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new logger writing to stdout.
func NewLogger(config Config) *Logger {
	return NewLoggerTo(os.Stdout, config)
}

// NewLoggerTo creates a new logger writing to w.
func NewLoggerTo(w io.Writer, config Config) *Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(config.Level),
		AddSource:   config.AddSource,
		ReplaceAttr: replaceLevel,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, Config{Level: "error", Format: "text"})
}

// Init initializes the global logger with the provided configuration
func Init(config Config) {
	defaultLogger = NewLogger(config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the default logger instance
func Default() *Logger {
	if defaultLogger == nil {
		Init(DefaultConfig)
	}
	return defaultLogger
}

// WithOperation creates a child logger with operation context
func (l *Logger) WithOperation(op Operation) *Logger {
	return &Logger{Logger: l.With(slog.Any("operation", op))}
}

// WithComponent creates a child logger with component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// LogError logs an error with caller information and structured attributes
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	l.logErr(ctx, slog.LevelError, err, msg, attrs...)
}

// LogWarn is LogError at warn level. Recovered failures of best-effort side
// effects are logged with it.
func (l *Logger) LogWarn(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	l.logErr(ctx, slog.LevelWarn, err, msg, attrs...)
}

func (l *Logger) logErr(ctx context.Context, level slog.Level, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+2)

	if e, ok := err.(*errors.Error); ok {
		allAttrs = append(allAttrs, slog.Any("error", ErrorValuer{Error: e}))
	} else if err != nil {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	pc, file, line, ok := runtime.Caller(2)
	if ok {
		fn := runtime.FuncForPC(pc)
		allAttrs = append(allAttrs,
			slog.Group("caller",
				slog.String("file", file),
				slog.Int("line", line),
				slog.String("function", fn.Name()),
			),
		)
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.Log(ctx, level, msg, allAttrs...)
}

// LogOperation runs fn as op. A failure is logged at warn level with attrs
// and the elapsed time and then returned; a success is logged at debug.
func (l *Logger) LogOperation(ctx context.Context, op Operation, fn func() error, attrs ...slog.Attr) error {
	start := time.Now()
	err := fn()
	attrs = append(attrs, slog.Duration("duration", time.Since(start)))

	opLogger := l.WithOperation(op)
	if err != nil {
		opLogger.logErr(ctx, slog.LevelWarn, err, "operation failed", attrs...)
		return err
	}
	opLogger.LogAttrs(ctx, slog.LevelDebug, "operation completed", attrs...)
	return nil
}

// HubLogger adapts a Logger to the printf-style logger interface of
// github.com/juju/pubsub/v2.
type HubLogger struct {
	L *Logger
}

func (h HubLogger) Errorf(format string, values ...interface{}) {
	h.L.Error(fmt.Sprintf(format, values...))
}

func (h HubLogger) Warningf(format string, values ...interface{}) {
	h.L.Warn(fmt.Sprintf(format, values...))
}

func (h HubLogger) Infof(format string, values ...interface{}) {
	h.L.Info(fmt.Sprintf(format, values...))
}

func (h HubLogger) Debugf(format string, values ...interface{}) {
	h.L.Debug(fmt.Sprintf(format, values...))
}

func (h HubLogger) Tracef(format string, values ...interface{}) {
	h.L.Log(context.Background(), LevelTrace, fmt.Sprintf(format, values...))
}

// WithComponent creates a child of the default logger with component context.
func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}
