package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/core/domain"
	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/theme"
)

// StyledLogger wraps slog.Logger with theme-aware message decoration.
// The pretty implementation colours worker names, counts and statuses for
// terminal output; the plain implementation keeps messages undecorated for
// non-TTY and test environments.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithCount(msg string, count int, args ...any)
	InfoWithWorker(msg string, worker string, args ...any)
	InfoWithHealthCheck(msg string, worker string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithWorker(msg string, worker string, args ...any)
	ErrorWithWorker(msg string, worker string, args ...any)
	InfoHealthy(msg string, worker string, args ...any)
	InfoHealthStatus(msg string, name string, status domain.WorkerStatus, args ...any)
	InfoConfigChange(setting string, oldValue, newValue string)

	InfoWithContext(msg string, worker string, ctx LogContext)
	WarnWithContext(msg string, worker string, ctx LogContext)
	ErrorWithContext(msg string, worker string, ctx LogContext)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// NewStyledLogger picks the pretty or plain implementation based on whether
// coloured output is in play.
func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) StyledLogger {
	if util.ShouldUseColors() {
		return NewPrettyStyledLogger(logger, appTheme)
	}
	return NewPlainStyledLogger(logger)
}

func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}

// LogContext splits a log call into the args shown on the terminal and the
// args that only belong in the log file, so the terminal stays readable while
// the file record keeps the full picture.
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// leveled dispatches on a level name so the context-logging paths in both
// implementations stay flat.
type leveled struct {
	logger *slog.Logger
}

func (l leveled) logAt(level string, msg string, args ...any) {
	switch level {
	case LogLevelWarn:
		l.logger.Warn(msg, args...)
	case LogLevelError:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l leveled) logAtContext(ctx context.Context, level string, msg string, args ...any) {
	switch level {
	case LogLevelWarn:
		l.logger.WarnContext(ctx, msg, args...)
	case LogLevelError:
		l.logger.ErrorContext(ctx, msg, args...)
	default:
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// statusLabel renders a worker status for humans: "healthy" reads "Healthy".
func statusLabel(status domain.WorkerStatus) string {
	s := status.String()
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// detailedContext marks a record as file-only for the split handler.
func detailedContext() context.Context {
	return context.WithValue(context.Background(), DefaultDetailedCookie, true)
}

// detailedFields assembles the file record args: worker name first, then the
// terminal args, then the detail.
func detailedFields(worker string, ctx LogContext) []any {
	args := make([]any, 0, len(ctx.UserArgs)+len(ctx.DetailedArgs)+2)
	args = append(args, "worker_name", worker)
	args = append(args, ctx.UserArgs...)
	args = append(args, ctx.DetailedArgs...)
	return args
}
