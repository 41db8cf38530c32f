package node

import (
	"context"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/bridge"
	"github.com/dzm2020/mesh/internal/config"
	"github.com/dzm2020/mesh/internal/dist"
	"github.com/dzm2020/mesh/internal/supervisor"
	"github.com/dzm2020/mesh/pkg/discovery"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/component"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/dzm2020/mesh/pkg/messageQue"
	"go.uber.org/zap"
)

// glogComponent 按配置重建全局 logger，停止时刷盘
type glogComponent struct {
	component.BaseComponent[*Node]
}

func (*glogComponent) Name() string { return "glog" }

func (*glogComponent) Init(n *Node) error {
	glog.Init(&n.cfg.Glog)
	return nil
}

func (*glogComponent) Start(_ context.Context, n *Node) error {
	glog.WithOptions(zap.Fields(zap.String("node", n.cfg.Node.Name)))
	return nil
}

func (*glogComponent) Stop(context.Context) error {
	glog.Stop()
	return nil
}

// deriveCreation 节点重启后 creation 变化，旧实例的 PID 不会被误认为新实例的进程
func deriveCreation(cfg *config.NodeConfig) uint8 {
	if cfg.Creation != 0 {
		return cfg.Creation
	}
	return uint8(time.Now().Unix()%255) + 1
}

type schedulerComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*schedulerComponent) Name() string { return "scheduler" }

func (c *schedulerComponent) Init(n *Node) error {
	c.n = n
	sc := n.cfg.Scheduler
	n.sched = actor.NewScheduler(
		actor.WithWorkers(sc.Workers),
		actor.WithReductionBudget(sc.ReductionBudget),
		actor.WithGCThreshold(sc.GCThreshold),
		actor.WithCreation(deriveCreation(&n.cfg.Node)),
	)
	for name, fn := range n.funcs {
		if err := n.sched.RegisterFunc(name, fn); err != nil {
			return xerror.Wrapf(err, "register func %s", name)
		}
	}
	return nil
}

func (c *schedulerComponent) Start(context.Context, *Node) error {
	c.n.sched.Start()
	return nil
}

func (c *schedulerComponent) Stop(ctx context.Context) error {
	return c.n.sched.Shutdown(ctx)
}

// messageQueComponent cluster.messageQueue.type 为空时不启用
type messageQueComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*messageQueComponent) Name() string { return "messageQue" }

func (c *messageQueComponent) Init(n *Node) error {
	c.n = n
	mqCfg := n.cfg.Cluster.MessageQueue
	if mqCfg.Type == "" {
		return nil
	}
	mq, err := messageQue.NewFromConfig(mqCfg)
	if err != nil {
		return err
	}
	n.mq = mq
	return nil
}

func (c *messageQueComponent) Start(ctx context.Context, n *Node) error {
	if n.mq == nil {
		return nil
	}
	return n.mq.Run(ctx)
}

func (c *messageQueComponent) Stop(ctx context.Context) error {
	if c.n.mq == nil {
		return nil
	}
	return c.n.mq.Shutdown(ctx)
}

// storeComponent 全局注册表快照，配置了就必须能连上
type storeComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*storeComponent) Name() string { return "registryStore" }

func (c *storeComponent) Init(n *Node) error {
	c.n = n
	if n.cfg.Cluster.RegistryStore.Type == config.StoreRedis {
		n.store = dist.NewRedisStore(&n.cfg.Cluster.RegistryStore.Redis)
	}
	return nil
}

func (c *storeComponent) Start(ctx context.Context, n *Node) error {
	if n.store == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := n.store.Ping(pingCtx); err != nil {
		_ = n.store.Close()
		return xerror.Wrapf(err, "redis %s", n.cfg.Cluster.RegistryStore.Redis.Addr)
	}
	return nil
}

func (c *storeComponent) Stop(context.Context) error {
	if c.n.store == nil {
		return nil
	}
	return c.n.store.Close()
}

// discoveryComponent 只负责 provider 的连接，节点注册在 dist 启动之后
type discoveryComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*discoveryComponent) Name() string { return "discovery" }

func (c *discoveryComponent) Init(n *Node) error {
	c.n = n
	dcfg := n.cfg.Cluster.Discovery
	if dcfg.Type == "" {
		return nil
	}
	d, err := discovery.NewFromConfig(dcfg)
	if err != nil {
		return err
	}
	n.disc = d
	return nil
}

func (c *discoveryComponent) Start(ctx context.Context, n *Node) error {
	if n.disc == nil {
		return nil
	}
	return n.disc.Run(ctx)
}

func (c *discoveryComponent) Stop(ctx context.Context) error {
	if c.n.disc == nil {
		return nil
	}
	return c.n.disc.Shutdown(ctx)
}

type distComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*distComponent) Name() string { return "dist" }

func (c *distComponent) Init(n *Node) error {
	c.n = n
	var options []dist.Option
	if n.mq != nil {
		options = append(options, dist.WithMessageQue(n.mq))
	}
	if n.store != nil {
		options = append(options, dist.WithRegistryStore(n.store))
	}
	d, err := dist.NewNode(n.sched, &n.cfg.Node.Config, options...)
	if err != nil {
		return err
	}
	n.dist = d
	return nil
}

func (c *distComponent) Start(ctx context.Context, n *Node) error {
	if err := n.dist.Start(ctx); err != nil {
		return err
	}
	if n.disc != nil {
		if err := n.dist.JoinDiscovery(n.disc); err != nil {
			_ = n.dist.Close(ctx)
			return err
		}
	}
	return nil
}

func (c *distComponent) Stop(ctx context.Context) error {
	return c.n.dist.Close(ctx)
}

// rootComponent 没有配置子进程时不启动根 supervisor
type rootComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*rootComponent) Name() string { return RootName }

func (c *rootComponent) Start(_ context.Context, n *Node) error {
	c.n = n
	if n.root == nil {
		return nil
	}
	cfg := *n.root
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = n.shutdownTimeout()
	}
	pid, err := supervisor.Start(n.sched, cfg, supervisor.WithName(RootName))
	if err != nil {
		return xerror.Wrap(err, "start root supervisor")
	}
	n.rootPID = pid
	return nil
}

func (c *rootComponent) Stop(context.Context) error {
	if c.n == nil || c.n.rootPID == 0 {
		return nil
	}
	return supervisor.Stop(c.n.sched, c.n.rootPID, c.n.shutdownTimeout()+time.Second)
}

// bridgeComponent 房间总是可用，监听地址和 acceptor 都配置了才启动对应服务
type bridgeComponent struct {
	component.BaseComponent[*Node]
	n *Node
}

func (*bridgeComponent) Name() string { return "bridge" }

func (c *bridgeComponent) Init(n *Node) error {
	c.n = n
	n.rooms = bridge.NewRooms(n.dist)
	return nil
}

func (c *bridgeComponent) Start(ctx context.Context, n *Node) error {
	bc := n.cfg.Bridge
	if bc.WebSocketAddr == "" && bc.TCPAddr == "" {
		return nil
	}
	if n.accept == nil {
		glog.Warn("配置了桥接服务但没有 acceptor，不启动", zap.String("websocket", bc.WebSocketAddr), zap.String("tcp", bc.TCPAddr))
		return nil
	}
	options := bc.Options()
	if bc.WebSocketAddr != "" {
		ws := bridge.NewWebSocketServer(n.sched, bc.WebSocketAddr, bc.WebSocketPath, options...)
		if err := ws.Start(n.accept); err != nil {
			return err
		}
		n.ws = ws
	}
	if bc.TCPAddr != "" {
		tcp := bridge.NewTCPServer(n.sched, bc.TCPAddr, bc.Multicore, options...)
		if err := tcp.Start(n.accept); err != nil {
			if n.ws != nil {
				_ = n.ws.Shutdown(ctx)
			}
			return err
		}
		n.tcp = tcp
	}
	return nil
}

func (c *bridgeComponent) Stop(ctx context.Context) error {
	var err error
	if c.n.tcp != nil {
		err = c.n.tcp.Shutdown(ctx)
	}
	if c.n.ws != nil {
		if werr := c.n.ws.Shutdown(ctx); werr != nil {
			err = werr
		}
	}
	return err
}
