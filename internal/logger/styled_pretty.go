package logger

import (
	"fmt"
	"log/slog"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/theme"
)

// PrettyStyledLogger decorates messages with theme colours for terminals.
type PrettyStyledLogger struct {
	leveled
	Theme *theme.Theme
}

func NewPrettyStyledLogger(logger *slog.Logger, appTheme *theme.Theme) *PrettyStyledLogger {
	return &PrettyStyledLogger{leveled: leveled{logger: logger}, Theme: appTheme}
}

func (sl *PrettyStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PrettyStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PrettyStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PrettyStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PrettyStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(msg+" "+sl.Theme.Counts.Sprint("(", count, ")"), args...)
}

func (sl *PrettyStyledLogger) InfoWithWorker(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+sl.workerTag(worker), args...)
}

func (sl *PrettyStyledLogger) InfoWithHealthCheck(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+sl.Theme.HealthCheck.Sprint(worker), args...)
}

func (sl *PrettyStyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	tokens := make([]any, len(numbers))
	for i, n := range numbers {
		tokens[i] = sl.Theme.Numbers.Sprint(n)
	}
	sl.logger.Info(fmt.Sprintf(msg, tokens...))
}

func (sl *PrettyStyledLogger) WarnWithWorker(msg string, worker string, args ...any) {
	sl.logger.Warn(msg+" "+sl.workerTag(worker), args...)
}

func (sl *PrettyStyledLogger) ErrorWithWorker(msg string, worker string, args ...any) {
	sl.logger.Error(msg+" "+sl.workerTag(worker), args...)
}

func (sl *PrettyStyledLogger) InfoHealthy(msg string, worker string, args ...any) {
	sl.logger.Info(msg+" "+sl.Theme.HealthHealthy.Sprint(worker), args...)
}

func (sl *PrettyStyledLogger) InfoHealthStatus(msg string, name string, status domain.WorkerStatus, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s is %s",
		msg,
		sl.workerTag(name),
		sl.Theme.StatusStyle(status.String()).Sprint(statusLabel(status))), args...)
}

func (sl *PrettyStyledLogger) InfoConfigChange(setting string, oldValue, newValue string) {
	sl.logger.Info(fmt.Sprintf("Configuration changed: %s %s -> %s",
		sl.Theme.Highlight.Sprint(setting),
		sl.Theme.Muted.Sprint(oldValue),
		sl.Theme.Numbers.Sprint(newValue)))
}

func (sl *PrettyStyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *PrettyStyledLogger) WithRequestID(requestID string) StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *PrettyStyledLogger) WithAttrs(attrs ...slog.Attr) StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}
	return sl.With(args...)
}

func (sl *PrettyStyledLogger) With(args ...any) StyledLogger {
	return &PrettyStyledLogger{
		leveled: leveled{logger: sl.logger.With(args...)},
		Theme:   sl.Theme,
	}
}

func (sl *PrettyStyledLogger) InfoWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelInfo, msg, worker, ctx)
}

func (sl *PrettyStyledLogger) WarnWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelWarn, msg, worker, ctx)
}

func (sl *PrettyStyledLogger) ErrorWithContext(msg string, worker string, ctx LogContext) {
	sl.logWithContext(LogLevelError, msg, worker, ctx)
}

// logWithContext writes the short line to the terminal and, when detail
// exists, a second file-only record carrying everything.
func (sl *PrettyStyledLogger) logWithContext(level string, msg string, worker string, ctx LogContext) {
	sl.logAt(level, msg+" "+sl.workerTag(worker), ctx.UserArgs...)

	if len(ctx.DetailedArgs) == 0 {
		return
	}
	sl.logAtContext(detailedContext(), level, msg, detailedFields(worker, ctx)...)
}

func (sl *PrettyStyledLogger) workerTag(worker string) string {
	return sl.Theme.Worker.Sprint(worker)
}
