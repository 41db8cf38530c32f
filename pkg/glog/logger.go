package glog

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerValue atomic.Pointer[zap.Logger]
	atomicLevel = zap.NewAtomicLevel()
)

func init() {
	Init(DefaultConfig())
}

// Init 初始化全局 logger
func Init(cfg *Config) {
	if cfg == nil {
		return
	}
	atomicLevel.SetLevel(parseLevel(cfg.Level))
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "M",
		LevelKey:       "L",
		TimeKey:        "T",
		CallerKey:      "C",
		NameKey:        "N",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000Z0700"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := make([]zapcore.Core, 0, 2)
	if cfg.Path != "" {
		w := newWriter(cfg)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(w), atomicLevel))
	}
	if cfg.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), atomicLevel))
	}
	logger := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.AddCallerSkip(1),
	)
	loggerValue.Store(logger)
}

// Stop 同步所有缓冲的日志
func Stop() {
	if l := loggerValue.Load(); l != nil {
		_ = l.Sync()
	}
}

// WithOptions 在当前 logger 上追加选项，例如节点名字段
func WithOptions(opts ...zap.Option) {
	if l := loggerValue.Load(); l != nil {
		loggerValue.Store(l.WithOptions(opts...))
	}
}

// SetLogLevel 设置日志级别
func SetLogLevel(level string) {
	atomicLevel.SetLevel(parseLevel(level))
}

// GetLevel 获取当前日志级别
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// Named 返回带子系统名字的 logger，不经过包级别的 caller skip
func Named(name string) *zap.Logger {
	if l := loggerValue.Load(); l != nil {
		return l.WithOptions(zap.AddCallerSkip(-1)).Named(name)
	}
	return zap.NewNop()
}

func Debug(msg string, fields ...zap.Field) {
	if l := loggerValue.Load(); l != nil {
		l.Debug(msg, fields...)
	}
}

func Info(msg string, fields ...zap.Field) {
	if l := loggerValue.Load(); l != nil {
		l.Info(msg, fields...)
	}
}

func Warn(msg string, fields ...zap.Field) {
	if l := loggerValue.Load(); l != nil {
		l.Warn(msg, fields...)
	}
}

func Error(msg string, fields ...zap.Field) {
	if l := loggerValue.Load(); l != nil {
		l.Error(msg, fields...)
	}
}

func Debugf(template string, args ...interface{}) {
	if l := loggerValue.Load(); l != nil {
		l.Sugar().Debugf(template, args...)
	}
}

func Infof(template string, args ...interface{}) {
	if l := loggerValue.Load(); l != nil {
		l.Sugar().Infof(template, args...)
	}
}

func Warnf(template string, args ...interface{}) {
	if l := loggerValue.Load(); l != nil {
		l.Sugar().Warnf(template, args...)
	}
}

func Errorf(template string, args ...interface{}) {
	if l := loggerValue.Load(); l != nil {
		l.Sugar().Errorf(template, args...)
	}
}
