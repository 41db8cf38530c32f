package consul

import (
	"errors"
	"time"
)

type Config struct {
	Address              string `json:"address"`
	WatchWaitTimeMs      int    `json:"watchWaitTimeMs"`      // 阻塞查询等待时间（毫秒）
	HealthTTLMs          int    `json:"healthTTLMs"`          // 健康检查 TTL（毫秒）
	DeregisterIntervalMs int    `json:"deregisterIntervalMs"` // critical 状态多久后自动注销（毫秒）
}

func DefaultConfig() *Config {
	return &Config{
		Address:              "127.0.0.1:8500",
		WatchWaitTimeMs:      1000,
		HealthTTLMs:          3000,
		DeregisterIntervalMs: 60000,
	}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("consul: address cannot be empty")
	}
	if c.HealthTTLMs <= 0 {
		return errors.New("consul: healthTTLMs must be positive")
	}
	return nil
}

func (c *Config) watchWaitTime() time.Duration {
	return time.Duration(c.WatchWaitTimeMs) * time.Millisecond
}

func (c *Config) healthTTL() time.Duration {
	return time.Duration(c.HealthTTLMs) * time.Millisecond
}

func (c *Config) deregisterInterval() time.Duration {
	return time.Duration(c.DeregisterIntervalMs) * time.Millisecond
}
