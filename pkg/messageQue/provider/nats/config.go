package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Config NATS 消息队列配置
type Config struct {
	Servers         []string `json:"servers"`
	Name            string   `json:"name"`
	MaxReconnects   int      `json:"maxReconnects"`   // -1 无限重连，0 不重连
	ReconnectWaitMs int      `json:"reconnectWaitMs"` // 重连间隔
	TimeoutMs       int      `json:"timeoutMs"`       // 连接超时
	Token           string   `json:"token"`
	NoEcho          bool     `json:"noEcho"` // 不接收自己发布的消息
}

func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("servers cannot be empty")
	}
	if c.MaxReconnects < -1 {
		return fmt.Errorf("maxReconnects must be >= -1, got %d", c.MaxReconnects)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Servers:         []string{"nats://127.0.0.1:4222"},
		Name:            "mesh-node",
		MaxReconnects:   -1,
		ReconnectWaitMs: 2000,
		TimeoutMs:       5000,
		NoEcho:          true,
	}
}

func toOptions(cfg *Config) []nats.Option {
	opts := []nats.Option{nats.MaxReconnects(cfg.MaxReconnects)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.ReconnectWaitMs > 0 {
		opts = append(opts, nats.ReconnectWait(time.Duration(cfg.ReconnectWaitMs)*time.Millisecond))
	}
	if cfg.TimeoutMs > 0 {
		opts = append(opts, nats.Timeout(time.Duration(cfg.TimeoutMs)*time.Millisecond))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.NoEcho {
		opts = append(opts, nats.NoEcho())
	}
	return opts
}
