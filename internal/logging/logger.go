// Package logging provides structured logging with trace ID propagation
// for the simulation host.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by this package.
type ContextKey string

const (
	// TraceIDKey is the context key for the per-operation trace ID.
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the simulation run ID.
	RunIDKey ContextKey = "run_id"
	// ServiceKey is the context key for the component name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with the component name fixed in.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the given component, level, and format ("json" or "text").
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT, defaulting to
// "info" / "json" when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// Nop returns a Logger that discards everything, safe as a nil-receiver default.
func Nop() *Logger {
	l := New("nop", "panic", "json")
	l.SetOutput(io.Discard)
	return l
}

// WithContext builds an entry carrying trace and run IDs pulled from ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if runID := ctx.Value(RunIDKey); runID != nil {
		entry = entry.WithField("run_id", runID)
	}
	return entry
}

// WithFields builds an entry with the component name plus the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError builds an entry with the component name plus an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// NewTraceID mints a fresh trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID reads the trace ID from ctx, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithRunID stores a run ID on ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID reads the run ID from ctx, or "" if absent.
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// LogAgentLifecycle logs a pooled agent state transition.
func (l *Logger) LogAgentLifecycle(ctx context.Context, poolIndex int, kind, transition string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"pool_index": poolIndex,
		"kind":       kind,
		"transition": transition,
	})
	if err != nil {
		entry.WithError(err).Warn("agent lifecycle transition failed")
		return
	}
	entry.Info("agent lifecycle transition")
}

// LogBatchFlush logs a recorder drain task flushing a batch.
func (l *Logger) LogBatchFlush(ctx context.Context, batchID string, eventCount, compressedSize int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"batch_id":        batchID,
		"event_count":     eventCount,
		"compressed_size": compressedSize,
	})
	if err != nil {
		entry.WithError(err).Error("batch flush failed")
		return
	}
	entry.Debug("batch flushed")
}

// LogRouteChange logs an addition or removal in the routing table.
func (l *Logger) LogRouteChange(ctx context.Context, action, domain, target string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action": action,
		"domain": domain,
		"target": target,
	}).Info("route changed")
}

// LogCertMint logs the minting of a leaf certificate for a host.
func (l *Logger) LogCertMint(ctx context.Context, host string, cached bool) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"host":   host,
		"cached": cached,
	}).Debug("leaf certificate minted")
}

// Debug logs at debug level with extra fields.
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Debug(message)
}

// Info logs at info level with extra fields.
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs at warn level with extra fields.
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs at error level, attaching err when non-nil.
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

// FormatDuration renders a duration in fractional milliseconds with two
// decimal places.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
