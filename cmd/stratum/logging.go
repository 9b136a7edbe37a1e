package main

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stratumhq/stratum/internal/config"
)

// newLogger builds the process-wide structured logger. When LOG_FILE is
// set, output is rotated by size instead of growing unbounded; otherwise
// it goes to stdout (§6.6, ambient logging).
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	var writer = os.Stdout
	handlerOpts := &slog.HandlerOptions{Level: level}

	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		return slog.New(slog.NewJSONHandler(rotating, handlerOpts))
	}

	return slog.New(slog.NewJSONHandler(writer, handlerOpts))
}
