package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/defistate/defistate-oracle-go/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the JSON root logger. With a file configured the output
// goes to a rotated file instead of stdout.
func newLogger(cfg config.LogConfig) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = rotated
		closeFn = func() { _ = rotated.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}
