package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// 中文说明：
// 轻量日志封装：底层使用 zerolog 控制台输出，对外保留 Debugf/Infof 等
// 格式化接口，支持设置全局级别，便于减少刷屏。

var root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func Debugf(format string, v ...any) {
	root.Debug().Msgf(format, v...)
}
func Infof(format string, v ...any) {
	root.Info().Msgf(format, v...)
}
func Warnf(format string, v ...any) {
	root.Warn().Msgf(format, v...)
}
func Errorf(format string, v ...any) {
	root.Error().Msgf(format, v...)
}

// Fatalf 输出错误后退出进程，仅用于启动阶段的不可恢复错误。
func Fatalf(format string, v ...any) {
	root.Fatal().Msgf(format, v...)
}
