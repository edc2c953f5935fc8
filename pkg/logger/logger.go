package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Loggers struct {
	InfoLogger  *slog.Logger
	WarnLogger  *slog.Logger
	ErrorLogger *slog.Logger
}

// SetupLogger builds JSON loggers at the given level. Info and warn records go
// to stdout, errors to stderr. When file is set every record is also written
// to a size-rotated log file.
func SetupLogger(level, file string) (*Loggers, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var stdout, stderr io.Writer = os.Stdout, os.Stderr
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			Compress:   true,
		}
		stdout = io.MultiWriter(os.Stdout, rotating)
		stderr = io.MultiWriter(os.Stderr, rotating)
	}

	return New(stdout, stderr, lvl), nil
}

func New(out, errOut io.Writer, level slog.Level) *Loggers {
	opts := &slog.HandlerOptions{Level: level}
	info := slog.New(slog.NewJSONHandler(out, opts))
	return &Loggers{
		InfoLogger:  info,
		WarnLogger:  info,
		ErrorLogger: slog.New(slog.NewJSONHandler(errOut, opts)),
	}
}

// Discard returns loggers that drop everything. Used by tests.
func Discard() *Loggers {
	return New(io.Discard, io.Discard, slog.LevelError)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}
