package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/bridge"
	"github.com/dzm2020/mesh/internal/config"
	"github.com/dzm2020/mesh/internal/supervisor"
	"github.com/dzm2020/mesh/pkg/lib/component"
	"github.com/gorilla/websocket"
)

func testConfig(short string) *config.Config {
	cfg := config.Default()
	cfg.Node.Name = short + "@127.0.0.1:0"
	cfg.Node.Cookie = "node-test"
	cfg.Node.HeartbeatMs = 200
	cfg.Scheduler.Workers = 2
	cfg.Glog.Level = "warn"
	cfg.Supervisor.ShutdownTimeoutMs = 500
	return cfg
}

func startNode(t *testing.T, cfg *config.Config, options ...Option) *Node {
	t.Helper()
	n := New(cfg, options...)
	if err := n.Startup(context.Background()); err != nil {
		t.Fatalf("节点启动失败: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.Stop(ctx)
	})
	return n
}

func idle(ctx *actor.Context, _ []byte) {
	for {
		ctx.Receive(actor.Infinity)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", what)
}

func TestNode_Startup(t *testing.T) {
	cfg := testConfig("a")
	cfg.Bridge.WebSocketAddr = "127.0.0.1:0"
	var n *Node
	n = startNode(t, cfg,
		WithChildren(supervisor.OneForOne, 3, 5, supervisor.ChildSpec{ID: "worker", Start: idle}),
		WithAcceptor(func(b *bridge.Bridge) (actor.PID, error) {
			return n.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
				for {
					msg := ctx.Receive(actor.Infinity)
					switch msg.Tag {
					case actor.BridgeDataTag:
						_ = b.WriteText(msg.Payload)
					case actor.BridgeDisconnectTag:
						return
					}
				}
			}, nil)
		}),
	)

	if n.Name() == cfg.Node.Name || n.Dist() == nil {
		t.Fatalf("节点名应改为实际端口: %s", n.Name())
	}
	if pid, ok := n.Scheduler().Whereis(RootName); !ok || pid != n.Root() {
		t.Fatal("根 supervisor 应以 root 注册")
	}
	counts, err := supervisor.CountChildren(n.Scheduler(), n.Root())
	if err != nil || counts.Active != 1 {
		t.Fatalf("子进程数量不符: %+v %v", counts, err)
	}
	if n.Component("dist") == nil || n.Rooms() == nil || n.TCP() != nil {
		t.Fatal("组件装配不符")
	}

	ws := n.WebSocket()
	if ws == nil {
		t.Fatal("配置了地址和 acceptor 时应启动 WebSocket 服务")
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ws.Addr()+ws.Path(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	if _, data, err := conn.ReadMessage(); err != nil || string(data) != "ping" {
		t.Fatalf("回写不符: %q %v", data, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = n.Stop(ctx); err != nil {
		t.Fatalf("停止失败: %v", err)
	}
	if n.Scheduler().Alive(n.Root()) || !n.Dist().IsStop() {
		t.Fatal("停止后根 supervisor 和分布式层都应关闭")
	}
}

func TestNode_PeersAndRemoteSpawn(t *testing.T) {
	started := make(chan actor.PID, 1)
	a := startNode(t, testConfig("a"), WithFunc("hello", func(ctx *actor.Context, _ []byte) {
		started <- ctx.Self()
		idle(ctx, nil)
	}))
	cfg := testConfig("b")
	cfg.Node.Peers = []string{a.Name()}
	b := startNode(t, cfg)

	eventually(t, "b 通过 peers 连上 a", func() bool {
		return len(a.Dist().Sessions()) == 1 && len(b.Dist().Sessions()) == 1
	})
	pid, err := b.Dist().SpawnRemote(a.Name(), "hello", nil, 3*time.Second)
	if err != nil {
		t.Fatalf("远程 spawn 失败: %v", err)
	}
	select {
	case local := <-started:
		if local.LocalID() != pid.LocalID() || pid.IsLocal() {
			t.Fatalf("远程 PID 不符: %v %v", local, pid)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("远程函数没有运行")
	}
}

type failing struct {
	component.BaseComponent[*Node]
}

func (*failing) Name() string { return "failing" }

func (*failing) Start(context.Context, *Node) error {
	return errors.New("boom")
}

func TestNode_StartFailureRollsBack(t *testing.T) {
	n := New(testConfig("c"))
	if err := n.Startup(context.Background(), &failing{}); err == nil {
		t.Fatal("组件启动失败时节点应启动失败")
	}
	if !n.Dist().IsStop() {
		t.Fatal("已启动的分布式层应被关闭")
	}
	if _, err := n.Scheduler().Spawn(idle, nil); err == nil {
		t.Fatal("调度器应已停止")
	}
}

func TestNode_RegistryStoreUnreachable(t *testing.T) {
	cfg := testConfig("d")
	cfg.Cluster.RegistryStore.Type = config.StoreRedis
	cfg.Cluster.RegistryStore.Redis.Addr = "127.0.0.1:1"
	n := New(cfg)
	if err := n.Startup(context.Background()); err == nil {
		t.Fatal("配置的 redis 不可达时应启动失败")
	}
}

func TestNode_InvalidConfig(t *testing.T) {
	cfg := testConfig("e")
	cfg.Node.Name = "bad"
	if err := New(cfg).Startup(context.Background()); err == nil {
		t.Fatal("非法节点名应当失败")
	}
}

func TestDeriveCreation(t *testing.T) {
	if got := deriveCreation(&config.NodeConfig{Creation: 7}); got != 7 {
		t.Fatalf("配置的 creation 应直接使用: %d", got)
	}
	if got := deriveCreation(&config.NodeConfig{}); got == 0 {
		t.Fatal("推导的 creation 不能为 0")
	}
}
