package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/javi11/plansync/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// rotationLevel backs the logger built by SetupLogRotation so the effective
// level can be changed at runtime via ApplyLogLevel.
var rotationLevel = &DynamicLeveler{}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogRotation configures slog with log rotation using lumberjack.
// If logConfig.File is empty, it logs to console only.
// If logConfig.File is configured, it logs to both console and file.
// Returns the configured logger.
func SetupLogRotation(logConfig config.LogConfig) *slog.Logger {
	var writer io.Writer = os.Stdout

	if logConfig.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSize,    // MB
			MaxBackups: logConfig.MaxBackups, // number of old files
			MaxAge:     logConfig.MaxAge,     // days
			Compress:   logConfig.Compress,   // compress old files
		}
		writer = io.MultiWriter(os.Stdout, fileWriter)
	}

	level := logConfig.Level
	if level == "" {
		level = "info"
	}
	rotationLevel.SetLevel(parseLevel(level))

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: rotationLevel,
	})

	// Wrap handler to support context data extraction
	wrappedHandler := WrapHandler(handler)

	return slog.New(wrappedHandler)
}

// ApplyLogLevel changes the effective level of the logger built by
// SetupLogRotation. Used when a config reload changes log.level.
func ApplyLogLevel(level string) {
	rotationLevel.SetLevel(parseLevel(level))
}
