package application

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jangbersahaja/fishon-captain-sub003/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a slog logger from the logging section of the config.
// When LOG_FILE is set, output goes to both stderr and a rotating file.
func NewLogger(conf config.Config, service string) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if conf.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(conf.LogFile), 0o755); err != nil {
			slog.Warn("failed to create log directory, logging to stderr only", "error", err)
		} else {
			rotating := &lumberjack.Logger{
				Filename:   conf.LogFile,
				MaxSize:    100, // MB
				MaxBackups: 5,
				MaxAge:     30, // days
				Compress:   true,
			}
			out = io.MultiWriter(os.Stderr, rotating)
			closer = rotating
		}
	}

	opts := &slog.HandlerOptions{Level: parseLevel(conf.LogLevel)}
	var handler slog.Handler
	if strings.EqualFold(conf.LogFormat, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("service", service), closer
}

// InitLogger installs the logger as the slog default.
func InitLogger(conf config.Config, service string) io.Closer {
	logger, closer := NewLogger(conf, service)
	slog.SetDefault(logger)
	return closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
