// Package discovery
// @Description: 服务发现入口，具体实现在 provider 子包中按名字注册
package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/lib/factory"
)

var fac = factory.New[iface.IDiscovery]()

// Config 服务发现配置
type Config struct {
	Type   string          `json:"type"`   // 提供者类型，如 "consul"
	Config json.RawMessage `json:"config"` // 提供者自己的配置
}

// Register provider 在 init 中调用
func Register(name string, creator func(data json.RawMessage) (iface.IDiscovery, error)) error {
	return fac.Register(name, func(args ...any) (iface.IDiscovery, error) {
		var data json.RawMessage
		if len(args) > 0 {
			data, _ = args[0].(json.RawMessage)
		}
		return creator(data)
	})
}

// NewFromConfig 根据配置创建服务发现实例
func NewFromConfig(config Config) (iface.IDiscovery, error) {
	creator, ok := fac.Get(config.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported discovery type: %s", config.Type)
	}
	return creator(config.Config)
}

// Types 已注册的 provider
func Types() []string {
	return fac.List()
}
