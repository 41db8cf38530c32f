package consul

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dzm2020/mesh/pkg/discovery"
	"github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

func init() {
	_ = discovery.Register("consul", func(data json.RawMessage) (iface.IDiscovery, error) {
		cfg := DefaultConfig()
		if len(data) > 0 {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse consul config: %w", err)
			}
		}
		return New(cfg)
	})
}

var _ iface.IDiscovery = (*Provider)(nil)

var errNotRunning = errors.New("consul: provider not running")

func New(config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		config:   config,
		watchers: make(map[string]*watcher),
	}, nil
}

type Provider struct {
	client *api.Client
	config *Config
	wc     *workers.WaitContext

	reg *registrar

	mu       sync.Mutex
	watchers map[string]*watcher

	stopOnce sync.Once
}

func (c *Provider) Run(ctx context.Context) error {
	if err := c.connect(); err != nil {
		glog.Error("consul连接失败", zap.String("address", c.config.Address), zap.Error(err))
		return err
	}
	c.wc = workers.WithWaitContext(nil)
	go func() {
		select {
		case <-ctx.Done():
			c.wc.Cancel()
		case <-c.wc.IsFinish():
		}
	}()
	c.reg = newRegistrar(c.wc, c.client, c.config)
	glog.Info("consul连接成功", zap.String("address", c.config.Address))
	return nil
}

func (c *Provider) connect() error {
	cfg := api.DefaultConfig()
	cfg.Address = c.config.Address
	client, err := api.NewClient(cfg)
	if err != nil {
		return err
	}
	if _, err = client.Status().Leader(); err != nil {
		return err
	}
	c.client = client
	return nil
}

// Register 注册成员，随后按 TTL 的一半周期上报健康状态
func (c *Provider) Register(member *iface.Member) error {
	if c.reg == nil {
		return errNotRunning
	}
	return c.reg.add(member)
}

func (c *Provider) Deregister(id string) error {
	if c.reg == nil {
		return errNotRunning
	}
	return c.reg.remove(id)
}

func (c *Provider) Watch(kind string, listener iface.Listener) func() {
	if c.wc == nil {
		return func() {}
	}
	c.mu.Lock()
	w, ok := c.watchers[kind]
	if !ok {
		w = newWatcher(c.wc, c.client, kind, c.config)
		c.watchers[kind] = w
	}
	c.mu.Unlock()
	return w.add(listener)
}

func (c *Provider) Members(kind string) []*iface.Member {
	c.mu.Lock()
	w, ok := c.watchers[kind]
	c.mu.Unlock()
	if ok {
		return w.members()
	}
	if c.client == nil {
		return nil
	}
	members, _, err := fetchHealthy(c.client, kind, nil)
	if err != nil {
		glog.Warn("consul查询服务失败", zap.String("kind", kind), zap.Error(err))
		return nil
	}
	return members
}

func (c *Provider) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.reg != nil {
			c.reg.shutdown()
		}
		if c.wc != nil {
			c.wc.Cancel()
		}
	})
	return nil
}
