package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"log/slog"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	active   *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	active = build(os.Stdout)
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 替换日志输出目标，通常是 stdout 与日志文件的 MultiWriter。
func SetOutput(w io.Writer) {
	mu.Lock()
	active = build(w)
	mu.Unlock()
}

// SetLevel 解析配置中的日志级别，未知取值回落到 info。
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func current() *slog.Logger {
	mu.RLock()
	l := active
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		active = build(os.Stdout)
	}
	return active
}

func Debugf(format string, v ...any) {
	current().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	current().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	current().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	current().Error(fmt.Sprintf(format, v...))
}
