package main

import (
	"io"
	"log/slog"
	"os"
)

// setupGlobalLogger setups a slog.Logger and sets it as the global logger of
// the slog package. When logFile is non-empty the log is appended there
// instead of stderr.
func setupGlobalLogger(level string, verbose bool, logFile string) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}

	opts := &slog.HandlerOptions{
		AddSource: true,
	}

	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	if verbose {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(logger)
	return logger, nil
}
