package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/signmaster-com/ComfyExpressMiddleware/internal/util"
	"github.com/signmaster-com/ComfyExpressMiddleware/theme"
)

type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes per rotated file
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
}

const (
	DefaultLogOutputName  = "cmw.log"
	DefaultDetailedCookie = "detailed"

	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
	LogLevelFatal   = "fatal"
	LogLevelPanic   = "panic"
)

// New builds the process logger: pterm on a colour terminal, JSON otherwise,
// plus a rotated JSON file when FileOutput is set. The returned cleanup
// closes the file sink and is safe to call once.
func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)
	console := newConsoleHandler(level, theme.GetTheme(cfg.Theme))

	if !cfg.FileOutput {
		return slog.New(console), func() {}, nil
	}

	file, closeFile, err := newFileHandler(cfg, level)
	if err != nil {
		return nil, nil, err
	}

	return slog.New(&splitHandler{console: console, file: file}), closeFile, nil
}

func newConsoleHandler(level slog.Level, appTheme *theme.Theme) slog.Handler {
	if !util.ShouldUseColors() {
		// Non-TTY gets machine-readable lines
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: scrubAttr,
		})
	}

	plogger := pterm.DefaultLogger.
		WithLevel(ptermLevel(level)).
		WithWriter(os.Stdout).
		WithFormatter(pterm.LogFormatterColorful).
		WithKeyStyles(map[string]pterm.Style{
			"level": *appTheme.Info,
			"msg":   *appTheme.Info,
			"time":  *appTheme.Muted,
		})
	return pterm.NewSlogHandler(plogger)
}

func newFileHandler(cfg *Config, level slog.Level) (slog.Handler, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: scrubAttr,
	})

	return handler, func() { _ = rotator.Close() }, nil
}

// scrubAttr normalises timestamps, flattens structured values and strips ANSI
// colour codes so file and JSON output stay grep-friendly.
func scrubAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{
			Key:   "timestamp",
			Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05")),
		}
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); strings.ContainsRune(s, '\x1b') {
			return slog.Attr{Key: a.Key, Value: slog.StringValue(stripAnsiCodes(s))}
		}
	case slog.KindAny:
		return slog.Attr{Key: a.Key, Value: slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))}
	}
	return a
}

// splitHandler fans a record out to the console and the log file. Records in
// a detailed context skip the console so the terminal stays readable while
// the file keeps everything.
type splitHandler struct {
	console slog.Handler
	file    slog.Handler
}

func detailedOnly(ctx context.Context) bool {
	d, ok := ctx.Value(DefaultDetailedCookie).(bool)
	return ok && d
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, record slog.Record) error {
	if !detailedOnly(ctx) && h.console.Enabled(ctx, record.Level) {
		if err := h.console.Handle(ctx, record); err != nil {
			return err
		}
	}
	if h.file.Enabled(ctx, record.Level) {
		return h.file.Handle(ctx, record)
	}
	return nil
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{
		console: h.console.WithAttrs(attrs),
		file:    h.file.WithAttrs(attrs),
	}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{
		console: h.console.WithGroup(name),
		file:    h.file.WithGroup(name),
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn, LogLevelWarning:
		return slog.LevelWarn
	case LogLevelError, LogLevelFatal, LogLevelPanic:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch level {
	case slog.LevelDebug:
		return pterm.LogLevelTrace
	case slog.LevelWarn:
		return pterm.LogLevelWarn
	case slog.LevelError:
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}
