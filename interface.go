package mesh

import (
	"context"
	"sync/atomic"

	"github.com/dzm2020/mesh/internal/config"
	"github.com/dzm2020/mesh/internal/node"
)

var defaultNode atomic.Pointer[node.Node]

func init() {
	InitWithConfig(config.Default())
}

// Init 从配置文件创建默认节点
func Init(path string, options ...node.Option) error {
	n, err := node.NewFromFile(path, options...)
	if err != nil {
		return err
	}
	defaultNode.Store(n)
	return nil
}

func InitWithConfig(cfg *config.Config, options ...node.Option) {
	defaultNode.Store(node.New(cfg, options...))
}

// Node 默认节点
func Node() *node.Node {
	return defaultNode.Load()
}

func Startup(ctx context.Context, comps ...node.Component) error {
	return Node().Startup(ctx, comps...)
}

// Run 启动默认节点并阻塞到 ctx 结束
func Run(ctx context.Context, comps ...node.Component) error {
	return Node().Run(ctx, comps...)
}

func Stop(ctx context.Context) error {
	return Node().Stop(ctx)
}
