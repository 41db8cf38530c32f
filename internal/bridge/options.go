package bridge

import (
	"time"
)

const (
	// DefaultPollInterval 读协程检查关闭标记的间隔
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxFrameSize 长度前缀帧的上限
	DefaultMaxFrameSize = 1 << 20
	// DefaultWriteTimeout 单次写超时
	DefaultWriteTimeout = 5 * time.Second
)

type Options struct {
	PollInterval time.Duration
	MaxFrameSize int
	WriteTimeout time.Duration
}

type Option func(*Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		PollInterval: DefaultPollInterval,
		MaxFrameSize: DefaultMaxFrameSize,
		WriteTimeout: DefaultWriteTimeout,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	return opts
}

// WithPollInterval 0 表示只在读失败时退出
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		o.PollInterval = d
	}
}

func WithMaxFrameSize(n int) Option {
	return func(o *Options) {
		o.MaxFrameSize = n
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WriteTimeout = d
	}
}

// Config 桥接服务配置，时间单位为毫秒
type Config struct {
	WebSocketAddr  string `json:"websocketAddr"`  // 为空时不启动
	WebSocketPath  string `json:"websocketPath"`  // 默认 /ws
	TCPAddr        string `json:"tcpAddr"`        // gnet 监听地址，为空时不启动
	Multicore      bool   `json:"multicore"`      // gnet 多事件循环
	PollIntervalMs int    `json:"pollIntervalMs"` // 读协程轮询间隔
	MaxFrameSize   int    `json:"maxFrameSize"`   // TCP 帧上限
	WriteTimeoutMs int    `json:"writeTimeoutMs"` // 写超时
}

func DefaultConfig() *Config {
	return &Config{
		WebSocketPath:  "/ws",
		PollIntervalMs: int(DefaultPollInterval / time.Millisecond),
		MaxFrameSize:   DefaultMaxFrameSize,
		WriteTimeoutMs: int(DefaultWriteTimeout / time.Millisecond),
	}
}

// Options 转为连接选项
func (c *Config) Options() []Option {
	return []Option{
		WithPollInterval(time.Duration(c.PollIntervalMs) * time.Millisecond),
		WithMaxFrameSize(c.MaxFrameSize),
		WithWriteTimeout(time.Duration(c.WriteTimeoutMs) * time.Millisecond),
	}
}
