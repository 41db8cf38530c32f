// Package messageQue
// @Description: 消息队列入口，provider 在 init 中按名字注册
package messageQue

import (
	"encoding/json"
	"fmt"

	"github.com/dzm2020/mesh/pkg/lib/factory"
	"github.com/dzm2020/mesh/pkg/messageQue/iface"
)

var fac = factory.New[iface.IMessageQue]()

// Config 消息队列配置
type Config struct {
	Type   string          `json:"type"`   // 消息队列类型，如 "nats"
	Config json.RawMessage `json:"config"` // provider 自己的配置
}

// Register provider 在 init 中调用
func Register(name string, creator func(data json.RawMessage) (iface.IMessageQue, error)) error {
	return fac.Register(name, func(args ...any) (iface.IMessageQue, error) {
		var data json.RawMessage
		if len(args) > 0 {
			data, _ = args[0].(json.RawMessage)
		}
		return creator(data)
	})
}

// NewFromConfig 根据配置创建消息队列实例
func NewFromConfig(config Config) (iface.IMessageQue, error) {
	creator, ok := fac.Get(config.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported message queue type: %s", config.Type)
	}
	return creator(config.Config)
}
