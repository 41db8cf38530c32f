package iface

import "context"

// Member 注册到服务发现中的节点
type Member struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Address string            `json:"address"`
	Port    int               `json:"port"`
	Tags    []string          `json:"tags"`
	Meta    map[string]string `json:"meta"`
}

// Listener 某类服务的健康成员列表变化时回调，参数是变化后的完整列表
type Listener func(members []*Member)

// IDiscovery 服务发现
type IDiscovery interface {
	Run(ctx context.Context) error
	// Register 注册成员并维持 TTL 健康检查
	Register(member *Member) error
	Deregister(id string) error
	// Watch 监听 kind 的成员变化，返回取消函数
	Watch(kind string, listener Listener) func()
	Members(kind string) []*Member
	Shutdown(ctx context.Context) error
}
