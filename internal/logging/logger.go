// Package logging provides structured logging using go.uber.org/zap.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration, loaded via internal/config.
type Config struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console (or text)
	OutputPath string `mapstructure:"outputPath"` // stdout, stderr, or file path
}

// Logger wraps zap.Logger with a small set of daemon-specific helpers.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide fallback logger, used before a configured
// logger is available (e.g. during config load itself).
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: detectFormat(), OutputPath: "stdout"})
		if err != nil {
			zl, _ := zap.NewProduction()
			l = &Logger{zap: zl}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// New builds a Logger from Config.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var enc zapcore.Encoder
	if cfg.Format == "console" || cfg.Format == "text" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch cfg.OutputPath {
	case "", "stdout":
		ws = zapcore.AddSync(os.Stdout)
	case "stderr":
		ws = zapcore.AddSync(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		ws = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(enc, ws, level)
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{zap: zl}, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

func detectFormat() string {
	if os.Getenv("AGENTRELAY_ENV") == "production" {
		return "json"
	}
	return "text"
}

// With returns a child logger with the given fields permanently attached.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

// Sync flushes buffered log entries; call on shutdown.
func (l *Logger) Sync() error { return l.zap.Sync() }
