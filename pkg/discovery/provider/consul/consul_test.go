package consul

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dzm2020/mesh/pkg/discovery"
	"github.com/dzm2020/mesh/pkg/discovery/iface"
)

// TestDefaultConfig 测试默认配置
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Address != "127.0.0.1:8500" || cfg.watchWaitTime() != time.Second {
		t.Error("默认配置值不正确")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("默认配置校验失败: %v", err)
	}
	cfg.Address = ""
	if cfg.Validate() == nil {
		t.Error("地址为空应校验失败")
	}
}

// TestFactory 通过工厂按名字创建
func TestFactory(t *testing.T) {
	d, err := discovery.NewFromConfig(discovery.Config{
		Type:   "consul",
		Config: json.RawMessage(`{"address":"127.0.0.1:18500","healthTTLMs":2000}`),
	})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	p := d.(*Provider)
	if p.config.Address != "127.0.0.1:18500" || p.config.healthTTL() != 2*time.Second {
		t.Errorf("配置未生效: %+v", p.config)
	}
	if p.Register(&iface.Member{ID: "x"}) == nil {
		t.Error("未运行时注册应失败")
	}
	if _, err = discovery.NewFromConfig(discovery.Config{Type: "etcd"}); err == nil {
		t.Error("未知类型应返回错误")
	}
}

// TestRegisterAndWatch 需要本地 consul，连不上时跳过
func TestRegisterAndWatch(t *testing.T) {
	provider, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err = provider.Run(context.Background()); err != nil {
		t.Skipf("consul 不可用: %v", err)
	}
	defer provider.Shutdown(context.Background())

	changed := make(chan []*iface.Member, 8)
	cancel := provider.Watch("mesh-test", func(members []*iface.Member) {
		changed <- members
	})
	defer cancel()

	member := &iface.Member{ID: "mesh-test-1", Kind: "mesh-test", Address: "127.0.0.1", Port: 9100}
	if err = provider.Register(member); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	deadline := time.After(10 * time.Second)
	for {
		select {
		case members := <-changed:
			for _, m := range members {
				if m.ID == member.ID {
					_ = provider.Deregister(member.ID)
					return
				}
			}
		case <-deadline:
			t.Fatal("没有观察到注册的成员")
		}
	}
}
