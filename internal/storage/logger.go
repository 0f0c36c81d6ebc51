package storage

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"vehicheck/internal/logger"
)

// GormLogger bridges gorm's logging interface onto the engine logger.
type GormLogger struct {
	logger.Logger
	LogLevel gormlogger.LogLevel
}

func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{Logger: l, LogLevel: gormlogger.Warn}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(msg, "data", data)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(msg, "data", data)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Err(nil, msg, "data", data)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	switch {
	case err != nil && l.LogLevel >= gormlogger.Error:
		l.Logger.Err(err, "sql failed", "sql", sql, "rows", rows)
	case elapsed > time.Second && l.LogLevel >= gormlogger.Warn:
		l.Logger.Warn("slow sql", "sql", sql, "rows", rows, "elapsed", elapsed.String())
	case l.LogLevel >= gormlogger.Info:
		l.Logger.Debug("sql", "sql", sql, "rows", rows, "elapsed", elapsed.String())
	}
}
