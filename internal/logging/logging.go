// Package logging provides structured logging with Sentry integration for
// the research backend.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds logging configuration.
type Config struct {
	Level     slog.Level
	SentryDSN string
	Env       string // "development", "production"
	Version   string
	LogFile   string // Path to log file (empty = stderr)
}

// Logger wraps slog.Logger with Sentry integration.
type Logger struct {
	*slog.Logger
	sentryEnabled bool
	logFile       *os.File // nil if logging to stderr
}

var defaultLogger *Logger

// Init initializes the global logger with the given config.
func Init(cfg Config) error {
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			Release:          cfg.Version,
			TracesSampleRate: 0.1,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		sentryEnabled = true
	}

	var output io.Writer = os.Stderr
	var logFile *os.File

	if cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		output = f
		logFile = f
	}

	handler := &sentryHandler{
		Handler: slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:     cfg.Level,
			AddSource: true,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Local timezone, consistent format
				if a.Key == slog.TimeKey {
					if t, ok := a.Value.Any().(time.Time); ok {
						a.Value = slog.StringValue(t.Local().Format("2006-01-02T15:04:05.000-07:00"))
					}
				}
				return a
			},
		}),
		sentryEnabled: sentryEnabled,
	}

	defaultLogger = &Logger{
		Logger:        slog.New(handler),
		sentryEnabled: sentryEnabled,
		logFile:       logFile,
	}
	slog.SetDefault(defaultLogger.Logger)
	return nil
}

// Flush flushes buffered Sentry events and closes the log file. Call before
// shutdown.
func Flush(timeout time.Duration) {
	if defaultLogger == nil {
		return
	}
	if defaultLogger.sentryEnabled {
		sentry.Flush(timeout)
	}
	if defaultLogger.logFile != nil {
		defaultLogger.logFile.Sync()
		defaultLogger.logFile.Close()
	}
}

// Default returns the default logger, or a plain slog wrapper before Init.
func Default() *Logger {
	if defaultLogger == nil {
		return &Logger{Logger: slog.Default()}
	}
	return defaultLogger
}

// sentryHandler wraps an slog.Handler and forwards errors to Sentry.
type sentryHandler struct {
	slog.Handler
	sentryEnabled bool
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	if h.sentryEnabled && r.Level >= slog.LevelError {
		h.sendToSentry(r)
	}
	return nil
}

func (h *sentryHandler) sendToSentry(r slog.Record) {
	event := sentry.NewEvent()
	event.Level = slogLevelToSentry(r.Level)
	event.Message = r.Message
	event.Timestamp = r.Time

	r.Attrs(func(a slog.Attr) bool {
		event.Extra[a.Key] = a.Value.Any()
		return true
	})

	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		event.Exception = []sentry.Exception{{
			Type:  "LogError",
			Value: r.Message,
			Stacktrace: &sentry.Stacktrace{
				Frames: []sentry.Frame{{
					Filename: frame.File,
					Function: frame.Function,
					Lineno:   frame.Line,
				}},
			},
		}}
	}

	sentry.CaptureEvent(event)
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithAttrs(attrs), sentryEnabled: h.sentryEnabled}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithGroup(name), sentryEnabled: h.sentryEnabled}
}

func slogLevelToSentry(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}

// Convenience functions that use the default logger

// Debug logs at debug level.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs at error level and sends to Sentry.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// CapturePanic reports a panic value to the log and to Sentry. Call from a
// recover() handler; returns the panic value for re-panicking if desired.
func CapturePanic(panicValue any, ctx ...any) any {
	if panicValue == nil {
		return nil
	}

	msg := fmt.Sprintf("panic: %v", panicValue)
	args := append([]any{"panic", panicValue}, ctx...)
	Default().Error(msg, args...)

	if defaultLogger != nil && defaultLogger.sentryEnabled {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelFatal)
			scope.SetTag("type", "panic")
			for i := 0; i < len(ctx)-1; i += 2 {
				if key, ok := ctx[i].(string); ok {
					scope.SetExtra(key, ctx[i+1])
				}
			}
			if err, ok := panicValue.(error); ok {
				sentry.CaptureException(err)
			} else {
				sentry.CaptureMessage(msg)
			}
		})
		// Flush immediately since we might crash
		sentry.Flush(2 * time.Second)
	}
	return panicValue
}
