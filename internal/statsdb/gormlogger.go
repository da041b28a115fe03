package statsdb

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"vcrproxy/internal/logger"
)

type traceIDKey struct{}

// WithTraceID attaches a request trace id to ctx so GormLogger can
// correlate slow-query and error logs with the request that triggered
// them.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// GormLogger adapts vcrproxy's logger.Logger to gorm's logger.Interface,
// the way cdpnetool's internal/storage.GormLogger wraps the same
// dependency.
type GormLogger struct {
	logger.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger wraps l for use as a gorm logger, defaulting to Info level.
// A nil l discards all output.
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{Logger: l, LogLevel: gormlogger.Info}
}

// LogMode returns a copy of the logger at the requested level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(msg, append([]any{"traceId", ctx.Value(traceIDKey{})}, data...)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(msg, append([]any{"traceId", ctx.Value(traceIDKey{})}, data...)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(msg, append([]any{"traceId", ctx.Value(traceIDKey{})}, data...)...)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"traceId", ctx.Value(traceIDKey{}),
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error:
		l.Logger.Error("statsdb query error", append(fields, "error", err)...)
	case elapsed > time.Second && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("statsdb slow query", append(fields, "threshold", "1s")...)
	case l.LogLevel == gormlogger.Info:
		l.Logger.Debug("statsdb query", fields...)
	}
}
