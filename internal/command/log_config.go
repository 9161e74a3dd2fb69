package command

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kittinook/behavior-tree/internal/config"
)

// logConfig holds resolved logging configuration for a btree subcommand.
type logConfig struct {
	level   slog.Level
	logFile *os.File // nil if logging to stderr
}

// resolveLogConfig resolves log configuration from flags and config defaults.
// Flag values take precedence; config values are used when flags have their
// zero/default value. The caller must Close() the returned logConfig.logFile
// when non-nil.
func resolveLogConfig(flagPath, flagLevel string, cfg *config.Config) (logConfig, error) {
	var lc logConfig

	levelStr := flagLevel
	if levelStr == "" {
		levelStr = cfg.LogLevel
	}
	switch strings.ToLower(levelStr) {
	case "debug":
		lc.level = slog.LevelDebug
	case "", "info":
		lc.level = slog.LevelInfo
	case "warn":
		lc.level = slog.LevelWarn
	case "error":
		lc.level = slog.LevelError
	default:
		return lc, fmt.Errorf("invalid log level: %s", levelStr)
	}

	logPath := flagPath
	if logPath == "" {
		logPath = cfg.LogFile
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return lc, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		lc.logFile = f
	}

	return lc, nil
}

// newLogger builds a slog.Logger from a resolved logConfig, writing to the
// given fallback writer (typically stderr) when no log file is configured.
func newLogger(lc logConfig, fallback *os.File) *slog.Logger {
	w := fallback
	if lc.logFile != nil {
		w = lc.logFile
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lc.level})
	return slog.New(handler)
}
