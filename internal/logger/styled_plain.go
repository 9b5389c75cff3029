package logger

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
)

// PlainStyledLogger keeps messages undecorated for non-TTY output and tests.
type PlainStyledLogger struct {
	leveled
}

func NewPlainStyledLogger(logger *slog.Logger) *PlainStyledLogger {
	return &PlainStyledLogger{leveled: leveled{logger: logger}}
}

func (sl *PlainStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PlainStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PlainStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PlainStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PlainStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(msg+" ("+strconv.Itoa(count)+")", args...)
}

func (sl *PlainStyledLogger) InfoWithWorker(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+worker, args...)
}

func (sl *PlainStyledLogger) InfoWithHealthCheck(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+worker, args...)
}

func (sl *PlainStyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	tokens := make([]any, len(numbers))
	for i, n := range numbers {
		tokens[i] = strconv.FormatInt(n, 10)
	}
	sl.logger.Info(fmt.Sprintf(msg, tokens...))
}

func (sl *PlainStyledLogger) WarnWithWorker(msg string, worker string, args ...any) {
	sl.logger.Warn(msg+" "+worker, args...)
}

func (sl *PlainStyledLogger) ErrorWithWorker(msg string, worker string, args ...any) {
	sl.logger.Error(msg+" "+worker, args...)
}

func (sl *PlainStyledLogger) InfoHealthy(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+worker, args...)
}

func (sl *PlainStyledLogger) InfoHealthStatus(msg string, name string, status domain.WorkerStatus, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s is %s", msg, name, statusLabel(status)), args...)
}

func (sl *PlainStyledLogger) InfoConfigChange(setting string, oldValue, newValue string) {
	sl.logger.Info(fmt.Sprintf("Configuration changed: %s %s -> %s", setting, oldValue, newValue))
}

func (sl *PlainStyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *PlainStyledLogger) WithRequestID(requestID string) StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *PlainStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return sl.With(args...)
}

func (sl *PlainStyledLogger) With(args ...any) StyledLogger {
	return &PlainStyledLogger{leveled: leveled{logger: sl.logger.With(args...)}}
}

func (sl *PlainStyledLogger) InfoWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelInfo, msg, worker, ctx)
}

func (sl *PlainStyledLogger) WarnWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelWarn, msg, worker, ctx)
}

func (sl *PlainStyledLogger) ErrorWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelError, msg, worker, ctx)
}

func (sl *PlainStyledLogger) logWithContext(level string, msg string, worker string, ctx LogContext) {
	sl.logAt(level, msg+" "+worker, ctx.UserArgs...)

	if len(ctx.DetailedArgs) == 0 {
		return
	}
	sl.logAtContext(detailedContext(), level, msg, detailedFields(worker, ctx)...)
}
