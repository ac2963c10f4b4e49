package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var l *zap.Logger

// FileOptions enables a rotated file sink next to stdout.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Option func(*options)

type options struct {
	level string
	file  *FileOptions
}

func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

func WithFile(f FileOptions) Option {
	return func(o *options) {
		if f.Path != "" {
			o.file = &f
		}
	}
}

func InitLogger(env string, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var cfg zap.Config

	if env == "prod" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if o.level != "" {
		if lvl, err := zap.ParseAtomicLevel(o.level); err == nil {
			cfg.Level = lvl
		}
	}

	logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}

	if o.file != nil {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore(cfg, o.file))
		}))
	}

	l = logger
}

func fileCore(cfg zap.Config, f *FileOptions) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	_ = os.MkdirAll(filepath.Dir(f.Path), 0o755)

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	})
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, cfg.Level)
}

// L exposes the underlying logger for libraries that want a *zap.Logger.
func L() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

func Info(msg string, fields ...zap.Field) {
	l.Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	l.Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	l.Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	l.Warn(msg, fields...)
}

func Sync() error {
	return l.Sync()
}
