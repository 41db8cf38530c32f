package glog

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newWriter 按大小切割的日志文件，时间戳使用本地时间
func newWriter(cfg *Config) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}
}
