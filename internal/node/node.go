// Package node 把调度器、分布式层、服务发现、消息队列、注册表快照和桥接服务组装成一个可运行的节点
package node

import (
	"context"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/bridge"
	"github.com/dzm2020/mesh/internal/config"
	"github.com/dzm2020/mesh/internal/dist"
	"github.com/dzm2020/mesh/internal/supervisor"
	discoveryiface "github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/component"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	mqiface "github.com/dzm2020/mesh/pkg/messageQue/iface"
	"go.uber.org/zap"

	_ "github.com/dzm2020/mesh/pkg/discovery/provider/consul"
	_ "github.com/dzm2020/mesh/pkg/messageQue/provider/nats"
)

// RootName 根 supervisor 的注册名
const RootName = "root"

// Component 由节点管理生命周期的组件
type Component = component.IComponent[*Node]

type Option func(*Node)

// WithChildren 根 supervisor 在节点启动时拉起的子进程
func WithChildren(strategy supervisor.Strategy, maxRestarts, maxSeconds int, children ...supervisor.ChildSpec) Option {
	return func(n *Node) {
		n.root = &supervisor.Config{
			Strategy:    strategy,
			MaxRestarts: maxRestarts,
			MaxSeconds:  maxSeconds,
			Children:    children,
		}
	}
}

// WithAcceptor 桥接服务为新连接创建所属进程，没有设置时不启动桥接服务
func WithAcceptor(accept bridge.Acceptor) Option {
	return func(n *Node) {
		n.accept = accept
	}
}

// WithFunc 注册可被远程 spawn 的函数
func WithFunc(name string, fn actor.EntryFunc) Option {
	return func(n *Node) {
		n.funcs[name] = fn
	}
}

// Node 一个运行中的节点
type Node struct {
	stopper.Stopper
	cfg    *config.Config
	mgr    *component.Manager[*Node]
	root   *supervisor.Config
	accept bridge.Acceptor
	funcs  map[string]actor.EntryFunc

	sched   *actor.Scheduler
	mq      mqiface.IMessageQue
	store   *dist.RedisStore
	dist    *dist.Node
	disc    discoveryiface.IDiscovery
	rootPID actor.PID
	rooms   *bridge.Rooms
	ws      *bridge.WebSocketServer
	tcp     *bridge.TCPServer
}

// New cfg 为 nil 时使用默认配置
func New(cfg *config.Config, options ...Option) *Node {
	if cfg == nil {
		cfg = config.Default()
	}
	n := &Node{
		cfg:   cfg,
		mgr:   component.NewManager[*Node](),
		funcs: make(map[string]actor.EntryFunc),
	}
	for _, option := range options {
		option(n)
	}
	return n
}

// NewFromFile 从配置文件创建节点
func NewFromFile(path string, options ...Option) (*Node, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, options...), nil
}

// Startup 注册内置组件和 comps，按顺序初始化并启动，任何一个失败时已启动的组件逆序停止
func (n *Node) Startup(ctx context.Context, comps ...Component) error {
	if err := n.cfg.Validate(); err != nil {
		return err
	}
	builtin := []Component{
		&glogComponent{},
		&schedulerComponent{},
		&messageQueComponent{},
		&storeComponent{},
		&discoveryComponent{},
		&distComponent{},
		&rootComponent{},
		&bridgeComponent{},
	}
	for _, c := range append(builtin, comps...) {
		if err := n.mgr.Register(c); err != nil {
			return xerror.Wrapf(err, "register %s", c.Name())
		}
	}
	if err := n.mgr.Init(n); err != nil {
		return err
	}
	if err := n.mgr.Start(ctx, n); err != nil {
		return err
	}
	glog.Info("节点已启动", zap.String("node", n.Name()), zap.Strings("components", n.mgr.Names()))
	return nil
}

// Stop 逆序停止所有组件
func (n *Node) Stop(ctx context.Context) error {
	if !n.Stopper.Stop() {
		return nil
	}
	glog.Info("节点停止", zap.String("node", n.Name()))
	return n.mgr.Stop(ctx)
}

// Run 启动后阻塞到 ctx 结束再停止
func (n *Node) Run(ctx context.Context, comps ...Component) error {
	if err := n.Startup(ctx, comps...); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), n.shutdownTimeout()+5*time.Second)
	defer cancel()
	return n.Stop(stopCtx)
}

func (n *Node) shutdownTimeout() time.Duration {
	return time.Duration(n.cfg.Supervisor.ShutdownTimeoutMs) * time.Millisecond
}

func (n *Node) Config() *config.Config {
	return n.cfg
}

// Name 分布式层启动后为实际监听的节点名
func (n *Node) Name() string {
	if n.dist != nil {
		return n.dist.Name()
	}
	return n.cfg.Node.Name
}

func (n *Node) Scheduler() *actor.Scheduler {
	return n.sched
}

func (n *Node) Dist() *dist.Node {
	return n.dist
}

// Root 根 supervisor，没有配置子进程时为 0
func (n *Node) Root() actor.PID {
	return n.rootPID
}

func (n *Node) Rooms() *bridge.Rooms {
	return n.rooms
}

// WebSocket 没有配置监听地址或 acceptor 时为 nil
func (n *Node) WebSocket() *bridge.WebSocketServer {
	return n.ws
}

func (n *Node) TCP() *bridge.TCPServer {
	return n.tcp
}

// Component 按名字取已注册的组件
func (n *Node) Component(name string) Component {
	return n.mgr.Get(name)
}
