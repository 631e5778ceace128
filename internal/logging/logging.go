// Package logging sets up the zap logger and carries it through a context.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger     *zap.SugaredLogger
	defaultLoggerOnce sync.Once
)

// Config describes where and how logs are written.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `envconfig:"SENSORGUARD_LOG_LEVEL" default:"info"`
	// Format is "json" or "console".
	Format string `envconfig:"SENSORGUARD_LOG_FORMAT" default:"console"`
	// File, when set, receives a copy of every entry with size based rotation.
	File string `envconfig:"SENSORGUARD_LOG_FILE"`
	// MaxSizeMB is the rotation size of File.
	MaxSizeMB int `envconfig:"SENSORGUARD_LOG_MAX_SIZE_MB" default:"50"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `envconfig:"SENSORGUARD_LOG_MAX_BACKUPS" default:"3"`
}

// New builds a logger writing to out and, if configured, to a rotating file.
func New(cfg Config, out io.Writer) (*zap.SugaredLogger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(defaultString(cfg.Level, "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(out), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar(), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or a default stderr logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok {
		return logger
	}
	return defaultInstance()
}

func defaultInstance() *zap.SugaredLogger {
	defaultLoggerOnce.Do(func() {
		logger, err := New(Config{Level: "info"}, os.Stderr)
		if err != nil {
			logger = NewNop()
		}
		defaultLogger = logger
	})
	return defaultLogger
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
