package glog

import (
	"go.uber.org/zap/zapcore"
)

// Config 日志配置，Path 为空时只输出到控制台
type Config struct {
	Level      string `json:"level"`      // debug info warn error
	Console    bool   `json:"console"`    // 写文件的同时输出到控制台
	Path       string `json:"path"`       // 日志文件
	MaxSizeMB  int    `json:"maxSizeMB"`  // 单个文件上限，超过后切割
	MaxBackups int    `json:"maxBackups"` // 保留的旧文件数
	MaxAgeDays int    `json:"maxAgeDays"` // 旧文件保留天数
}

func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  500,
		MaxBackups: 100,
		MaxAgeDays: 30,
	}
}

// parseLevel 无法识别时按 info 处理
func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
