package logger

import (
	"log/slog"
	"os"
)

// Fatal logs through the process-default slog handler and exits. It exists
// for the window before NewWithTheme succeeds; afterwards use FatalWithLogger.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
