package dist

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/internal/supervisor"
	"golang.org/x/exp/slices"
)

const waitTimeout = 3 * time.Second

func newTestNode(t *testing.T, short, cookie string, configure ...func(*Config)) *Node {
	t.Helper()
	sched := actor.NewScheduler(actor.WithWorkers(2))
	sched.Start()
	cfg := DefaultConfig()
	cfg.Name = short + "@127.0.0.1:0"
	cfg.Cookie = cookie
	cfg.HeartbeatMs = 200
	for _, f := range configure {
		f(cfg)
	}
	n, err := NewNode(sched, cfg)
	if err != nil {
		t.Fatalf("创建节点失败: %v", err)
	}
	if err = n.Start(context.Background()); err != nil {
		t.Fatalf("启动节点失败: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = n.Close(ctx)
		_ = sched.Shutdown(ctx)
	})
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", what)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("等待结果超时")
	}
	var zero T
	return zero
}

func connectPair(t *testing.T, a, b *Node) {
	t.Helper()
	if err := a.Connect(b.Name()); err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	eventually(t, "双方会话建立", func() bool {
		return slices.Contains(a.Sessions(), b.Name()) && slices.Contains(b.Sessions(), a.Name())
	})
}

func idle(ctx *actor.Context, _ []byte) {
	for {
		ctx.Receive(actor.Infinity)
	}
}

// stopOnMessage 收到任意消息后以消息内容为原因退出，内容为空时正常退出
func stopOnMessage(ctx *actor.Context, _ []byte) {
	msg := ctx.Receive(actor.Infinity)
	if len(msg.Payload) == 0 {
		return
	}
	ctx.Stop(actor.Custom(string(msg.Payload)))
}

func TestNode_StartRewritesPort(t *testing.T) {
	n := newTestNode(t, "a", "c")
	_, _, port, err := ParseNodeName(n.Name())
	if err != nil || port == 0 {
		t.Fatalf("启动后节点名应带实际端口: %s %v", n.Name(), err)
	}
}

func TestNode_InvalidName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "nohost"
	if _, err := NewNode(actor.NewScheduler(), cfg); err == nil {
		t.Fatal("非法节点名应当报错")
	}
}

func TestNode_ConnectSelf(t *testing.T) {
	n := newTestNode(t, "a", "c")
	if err := n.Connect(n.Name()); !errors.Is(err, errs.ErrConnectSelf) {
		t.Fatalf("连接自己应当报错，实际 %v", err)
	}
}

func TestNode_SendNamedAcrossNodes(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	echo, err := b.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		for {
			msg := ctx.Receive(actor.Infinity)
			_ = ctx.Send(msg.From, msg.Tag+1, append([]byte("echo:"), msg.Payload...))
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err = b.Scheduler().Register("echo", echo); err != nil {
		t.Fatal(err)
	}

	got := make(chan *actor.Message, 1)
	_, err = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		if err := ctx.SendNamed("echo@"+b.Name(), 10, []byte("hi")); err != nil {
			t.Errorf("具名发送失败: %v", err)
			return
		}
		got <- ctx.Receive(waitTimeout)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	msg := recv(t, got)
	if msg.IsTimeout() || msg.Tag != 11 || string(msg.Payload) != "echo:hi" {
		t.Fatalf("回复不符: %+v", msg)
	}
	if id, _ := a.NodeID(b.Name()); msg.From.NodeID() != id || msg.From.LocalID() != echo.LocalID() {
		t.Fatalf("回复的来源 PID 应指向 b 上的进程: %v", msg.From)
	}
}

func TestNode_SendReservedTagRejected(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)
	remote := actor.NewPID(1, 1, 1)
	if err := a.Scheduler().Send(0, remote, actor.ExitSignalTag, nil); !errors.Is(err, errs.ErrReservedTag) {
		t.Fatalf("保留 tag 不应发到远端: %v", err)
	}
}

func TestNode_SpawnRemote(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	started := make(chan string, 1)
	_ = b.RegisterFunc("worker", func(ctx *actor.Context, args []byte) {
		started <- string(args)
		idle(ctx, nil)
	})

	pid, err := a.SpawnRemote(b.Name(), "worker", []byte("job-1"), waitTimeout)
	if err != nil {
		t.Fatalf("远程 spawn 失败: %v", err)
	}
	if id, _ := a.NodeID(b.Name()); pid.NodeID() != id || pid.Creation() != b.Scheduler().Creation() {
		t.Fatalf("返回的 PID 不属于 b: %v", pid)
	}
	if args := recv(t, started); args != "job-1" {
		t.Fatalf("参数不符: %s", args)
	}
	if !b.Scheduler().Alive(pid.WithNodeID(0)) {
		t.Fatal("b 上应当存在该进程")
	}

	if _, err = a.SpawnRemote(b.Name(), "missing", nil, waitTimeout); !errors.Is(err, errs.ErrSpawnFailed) {
		t.Fatalf("不存在的函数应当失败: %v", err)
	}
	if _, err = a.SpawnRemote("x@127.0.0.1:1", "worker", nil, waitTimeout); !errors.Is(err, errs.ErrNodeNotConnected) {
		t.Fatalf("未连接的节点应当失败: %v", err)
	}
}

func TestNode_RemoteLinkPropagatesExit(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)
	_ = b.RegisterFunc("stopper", stopOnMessage)

	type result struct {
		child actor.PID
		sig   actor.ExitSignal
		ok    bool
	}
	done := make(chan result, 1)
	_, err := a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ctx.TrapExit(true)
		child, err := ctx.SpawnRemote(b.Name(), "stopper", nil, true, waitTimeout)
		if err != nil {
			t.Errorf("远程 spawn_link 失败: %v", err)
			return
		}
		_ = ctx.Send(child, 1, []byte("boom"))
		msg := ctx.ReceiveTag(actor.ExitSignalTag, waitTimeout)
		sig, ok := msg.ExitSignal()
		done <- result{child, sig, ok}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := recv(t, done)
	if !r.ok || r.sig.From != r.child || !r.sig.Reason.Equal(actor.Custom("boom")) {
		t.Fatalf("应收到子进程的退出信号: %+v", r)
	}
}

func TestNode_RemoteLinkKillsNonTrapping(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	target, _ := b.Scheduler().Spawn(stopOnMessage, nil)
	remote := target.WithNodeID(mustNodeID(t, a, b.Name()))

	linked := make(chan struct{})
	parent, err := a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		if err := ctx.Link(remote); err != nil {
			t.Errorf("链接失败: %v", err)
		}
		close(linked)
		idle(ctx, nil)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	watch := a.Scheduler().Watch(parent)
	recv(t, linked)
	eventually(t, "b 侧链接建立", func() bool {
		info, ok := b.Scheduler().Info(target)
		return ok && len(info.Links) == 1
	})
	_ = b.Scheduler().Send(0, target, 1, []byte("crash"))
	if reason := recv(t, watch); !reason.Equal(actor.Custom("crash")) {
		t.Fatalf("链接的进程应以相同原因退出: %v", reason)
	}
}

func TestNode_LinkToMissingRemote(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)
	ghost := actor.NewPID(mustNodeID(t, a, b.Name()), b.Scheduler().Creation(), 99999)

	got := make(chan actor.ExitSignal, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ctx.TrapExit(true)
		_ = ctx.Link(ghost)
		sig, _ := ctx.ReceiveTag(actor.ExitSignalTag, waitTimeout).ExitSignal()
		got <- sig
	}, nil)
	sig := recv(t, got)
	if sig.From != ghost || sig.Reason.Kind != actor.ExitNoproc {
		t.Fatalf("链接不存在的远程进程应收到 noproc: %+v", sig)
	}
}

func TestNode_RemoteMonitor(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	target, _ := b.Scheduler().Spawn(stopOnMessage, nil)
	remote := target.WithNodeID(mustNodeID(t, a, b.Name()))

	type result struct {
		ref actor.MonitorRef
		sig actor.DownSignal
	}
	done := make(chan result, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ref := ctx.Monitor(remote)
		_ = ctx.Send(remote, 1, nil)
		sig, _ := ctx.ReceiveTag(actor.DownSignalTag, waitTimeout).DownSignal()
		done <- result{ref, sig}
	}, nil)
	r := recv(t, done)
	if r.sig.Ref != r.ref || r.sig.From != remote || !r.sig.Reason.IsNormal() {
		t.Fatalf("DOWN 不符: %+v", r)
	}
}

func TestNode_DemonitorStopsDown(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	target, _ := b.Scheduler().Spawn(stopOnMessage, nil)
	remote := target.WithNodeID(mustNodeID(t, a, b.Name()))

	done := make(chan bool, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ref := ctx.Monitor(remote)
		ctx.Demonitor(ref)
		_ = ctx.Send(remote, 1, nil)
		done <- ctx.ReceiveTag(actor.DownSignalTag, 300*time.Millisecond).IsTimeout()
	}, nil)
	if !recv(t, done) {
		t.Fatal("取消监视后不应再收到 DOWN")
	}
}

func TestNode_DisconnectFiresNoconnection(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	target, _ := b.Scheduler().Spawn(idle, nil, actor.WithTrapExit())
	remote := target.WithNodeID(mustNodeID(t, a, b.Name()))

	type result struct {
		exit actor.ExitSignal
		down actor.DownSignal
	}
	ready := make(chan struct{})
	done := make(chan result, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ctx.TrapExit(true)
		_ = ctx.Link(remote)
		ctx.Monitor(remote)
		close(ready)
		exit, _ := ctx.ReceiveTag(actor.ExitSignalTag, waitTimeout).ExitSignal()
		down, _ := ctx.ReceiveTag(actor.DownSignalTag, waitTimeout).DownSignal()
		done <- result{exit, down}
	}, nil)
	plain, _ := a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		_ = ctx.Link(remote)
		idle(ctx, nil)
	}, nil)
	watch := a.Scheduler().Watch(plain)

	recv(t, ready)
	eventually(t, "b 侧链接建立", func() bool {
		info, ok := b.Scheduler().Info(target)
		return ok && len(info.Links) == 2
	})
	if !a.Disconnect(b.Name()) {
		t.Fatal("应当存在到 b 的会话")
	}
	r := recv(t, done)
	if r.exit.From != remote || r.exit.Reason.Kind != actor.ExitNoconnection {
		t.Fatalf("链接应收到 noconnection: %+v", r.exit)
	}
	if r.down.From != remote || r.down.Reason.Kind != actor.ExitNoconnection {
		t.Fatalf("监视应收到 noconnection: %+v", r.down)
	}
	if reason := recv(t, watch); reason.Kind != actor.ExitNoconnection {
		t.Fatalf("不捕获退出的进程应以 noconnection 退出: %v", reason)
	}
	// b 侧也会为 a 上退出的链接进程清理
	eventually(t, "b 侧链接清理", func() bool {
		info, ok := b.Scheduler().Info(target)
		return ok && len(info.Links) == 0
	})
}

func TestNode_ReconnectKeepsNewMonitors(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	target, _ := b.Scheduler().Spawn(idle, nil)
	id := mustNodeID(t, a, b.Name())
	remote := target.WithNodeID(id)

	ready := make(chan struct{})
	downs := make(chan actor.DownSignal, 2)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ctx.Monitor(remote)
		close(ready)
		for {
			if sig, ok := ctx.ReceiveTag(actor.DownSignalTag, actor.Infinity).DownSignal(); ok {
				downs <- sig
			}
		}
	}, nil)
	recv(t, ready)
	a.Disconnect(b.Name())

	// 断开后立即重连，新会话复用同一个 node_id
	eventually(t, "重新建立会话", func() bool {
		_ = a.Connect(b.Name())
		return slices.Contains(a.Sessions(), b.Name()) && slices.Contains(b.Sessions(), a.Name())
	})
	if got := mustNodeID(t, a, b.Name()); got != id {
		t.Fatalf("同名节点应复用 node_id: %d != %d", got, id)
	}

	spurious := make(chan bool, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		ctx.Monitor(remote)
		spurious <- !ctx.ReceiveTag(actor.DownSignalTag, 300*time.Millisecond).IsTimeout()
	}, nil)
	if recv(t, spurious) {
		t.Fatal("重连后建立的监视不应收到旧会话的 noconnection")
	}
	if !b.Scheduler().Alive(target) {
		t.Fatal("目标进程不应退出")
	}

	if sig := recv(t, downs); sig.Reason.Kind != actor.ExitNoconnection {
		t.Fatalf("旧监视应收到 noconnection: %+v", sig)
	}
	select {
	case sig := <-downs:
		t.Fatalf("旧监视只应收到一次 DOWN: %+v", sig)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNode_CookieMismatch(t *testing.T) {
	a := newTestNode(t, "a", "one")
	b := newTestNode(t, "b", "two")
	if err := a.Connect(b.Name()); err == nil {
		t.Fatal("cookie 不一致时连接应当失败")
	}
	if len(a.Sessions()) != 0 || len(b.Sessions()) != 0 {
		t.Fatalf("不应建立会话: %v %v", a.Sessions(), b.Sessions())
	}
}

func TestNode_SimultaneousConnect(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	errCh := make(chan error, 2)
	go func() { errCh <- a.Connect(b.Name()) }()
	go func() { errCh <- b.Connect(a.Name()) }()
	<-errCh
	<-errCh
	eventually(t, "双方各保留一个会话", func() bool {
		return len(a.Sessions()) == 1 && len(b.Sessions()) == 1
	})
	time.Sleep(100 * time.Millisecond)
	if len(a.Sessions()) != 1 || len(b.Sessions()) != 1 {
		t.Fatalf("重复连接仲裁后应只剩一个会话: %v %v", a.Sessions(), b.Sessions())
	}
	pid, err := a.SpawnRemote(b.Name(), "missing", nil, waitTimeout)
	if !errors.Is(err, errs.ErrSpawnFailed) || !pid.IsZero() {
		t.Fatalf("仲裁后的会话应当可用: %v", err)
	}
}

func TestNode_PeerListMesh(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	c := newTestNode(t, "c", "c")
	connectPair(t, a, b)
	if err := c.Connect(a.Name()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "三个节点全连接", func() bool {
		return len(a.Sessions()) == 2 && len(b.Sessions()) == 2 && len(c.Sessions()) == 2
	})
}

func TestNode_GlobalRegistry(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	svc, _ := b.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		msg := ctx.Receive(actor.Infinity)
		_ = ctx.Send(msg.From, 2, msg.Payload)
		idle(ctx, nil)
	}, nil)
	if err := b.GlobalRegister("svc", svc); err != nil {
		t.Fatalf("全局注册失败: %v", err)
	}
	if err := b.GlobalRegister("svc", svc); err != nil {
		t.Fatalf("同一进程重复注册应当幂等: %v", err)
	}
	bID := mustNodeID(t, a, b.Name())
	eventually(t, "a 看到全局名字", func() bool {
		pid, ok := a.GlobalWhereis("svc")
		return ok && pid == svc.WithNodeID(bID)
	})

	local, _ := a.Scheduler().Spawn(idle, nil)
	if err := a.GlobalRegister("svc", local); !errors.Is(err, errs.ErrNameAlreadyRegistered) {
		t.Fatalf("已被占用的名字应当拒绝: %v", err)
	}
	if err := a.GlobalRegister("bad", actor.NewPID(bID, 1, 1)); !errors.Is(err, errs.ErrProcessNotFound) {
		t.Fatalf("只能注册本地进程: %v", err)
	}

	reply := make(chan []byte, 1)
	_, _ = a.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		if err := a.SendGlobal(ctx.Self(), "svc", 1, []byte("ping")); err != nil {
			t.Errorf("按全局名字发送失败: %v", err)
			return
		}
		reply <- ctx.ReceiveTag(2, waitTimeout).Payload
	}, nil)
	if got := recv(t, reply); string(got) != "ping" {
		t.Fatalf("回复不符: %q", got)
	}

	b.Scheduler().Exit(svc, actor.Killed)
	eventually(t, "进程退出后名字在两边都被移除", func() bool {
		_, onA := a.GlobalWhereis("svc")
		_, onB := b.GlobalWhereis("svc")
		return !onA && !onB
	})
}

func TestNode_GlobalSyncOnConnect(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	pid, _ := a.Scheduler().Spawn(idle, nil)
	if err := a.GlobalRegister("early", pid); err != nil {
		t.Fatal(err)
	}
	connectPair(t, a, b)
	eventually(t, "新连接的节点收到已有名字", func() bool {
		_, ok := b.GlobalWhereis("early")
		return ok
	})
	if !slices.Equal(b.GlobalNames(), []string{"early"}) {
		t.Fatalf("名字列表不符: %v", b.GlobalNames())
	}

	a.Disconnect(b.Name())
	eventually(t, "断开后名字被移除", func() bool {
		_, ok := b.GlobalWhereis("early")
		return !ok
	})
	if _, ok := a.GlobalWhereis("early"); !ok {
		t.Fatal("本节点自己的名字不受断开影响")
	}
}

func TestNode_GlobalUnregister(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)
	pid, _ := a.Scheduler().Spawn(idle, nil)
	_ = a.GlobalRegister("tmp", pid)
	eventually(t, "b 看到名字", func() bool {
		_, ok := b.GlobalWhereis("tmp")
		return ok
	})
	if !a.GlobalUnregister("tmp") {
		t.Fatal("注销应当成功")
	}
	if a.GlobalUnregister("tmp") {
		t.Fatal("重复注销应返回 false")
	}
	eventually(t, "b 上的名字被移除", func() bool {
		_, ok := b.GlobalWhereis("tmp")
		return !ok
	})
}

func TestNode_Broadcast(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	c := newTestNode(t, "c", "c")
	connectPair(t, a, b)
	connectPair(t, a, c)
	eventually(t, "b 和 c 互连", func() bool {
		return len(b.Sessions()) == 2 && len(c.Sessions()) == 2
	})

	var counts [3]atomic.Int32
	for i, n := range []*Node{a, b, c} {
		i := i
		n.HandleBroadcast("news", func(payload []byte) {
			if string(payload) == "hello" {
				counts[i].Add(1)
			}
		})
	}
	if err := a.Broadcast("news", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	eventually(t, "每个节点收到广播", func() bool {
		return counts[0].Load() == 1 && counts[1].Load() == 1 && counts[2].Load() == 1
	})
	time.Sleep(100 * time.Millisecond)
	for i := range counts {
		if counts[i].Load() != 1 {
			t.Fatalf("广播不应被转发，节点 %d 收到 %d 次", i, counts[i].Load())
		}
	}
}

func TestNode_HeartbeatKeepsSession(t *testing.T) {
	short := func(cfg *Config) { cfg.HeartbeatMs = 50 }
	a := newTestNode(t, "a", "c", short)
	b := newTestNode(t, "b", "c", short)
	connectPair(t, a, b)
	time.Sleep(300 * time.Millisecond)
	if len(a.Sessions()) != 1 || len(b.Sessions()) != 1 {
		t.Fatal("有心跳时空闲会话不应断开")
	}
}

func TestNode_CloseEndsSessions(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = a.Close(ctx)
	eventually(t, "对端感知关闭", func() bool {
		return len(b.Sessions()) == 0
	})
	if err := a.Connect(b.Name()); !errors.Is(err, errs.ErrSystemShuttingDown) {
		t.Fatalf("关闭后不能再连接: %v", err)
	}
}

func mustNodeID(t *testing.T, n *Node, name string) uint16 {
	t.Helper()
	id, ok := n.NodeID(name)
	if !ok {
		t.Fatalf("未知节点 %s", name)
	}
	return id
}

func TestSupervisor_RemoteChild(t *testing.T) {
	a := newTestNode(t, "a", "c")
	b := newTestNode(t, "b", "c")
	connectPair(t, a, b)

	started := make(chan actor.PID, 4)
	_ = b.RegisterFunc("worker", func(ctx *actor.Context, _ []byte) {
		started <- ctx.Self()
		idle(ctx, nil)
	})

	sup, err := supervisor.Start(a.Scheduler(), supervisor.Config{
		Strategy:    supervisor.OneForOne,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children: []supervisor.ChildSpec{{
			ID:            "remote",
			Restart:       supervisor.Permanent,
			Shutdown:      supervisor.WithTimeout(time.Second),
			TargetNode:    b.Name(),
			StartFuncName: "worker",
		}},
	})
	if err != nil {
		t.Fatalf("supervisor 启动失败: %v", err)
	}
	first := recv(t, started)

	childPID := func() actor.PID {
		children, err := supervisor.WhichChildren(a.Scheduler(), sup)
		if err != nil || len(children) != 1 {
			t.Fatalf("子进程列表不符: %+v %v", children, err)
		}
		return children[0].PID
	}
	pid := childPID()
	if pid.NodeID() != mustNodeID(t, a, b.Name()) || pid.LocalID() != first.LocalID() {
		t.Fatalf("子进程应运行在 b 上: %v", pid)
	}

	// 远程子进程崩溃后在 b 上重启
	b.Scheduler().Exit(first, actor.Custom("crash"))
	second := recv(t, started)
	if second == first {
		t.Fatal("重启后应是新进程")
	}
	eventually(t, "supervisor 记录新的子进程", func() bool {
		return childPID().LocalID() == second.LocalID()
	})

	// 会话断开时 supervisor 收到 noconnection，重启失败后退出
	exited := a.Scheduler().Watch(sup)
	a.Disconnect(b.Name())
	reason := recv(t, exited)
	if reason.Kind != actor.ExitCustom || !strings.Contains(string(reason.Data), errs.ErrNodeNotConnected.Error()) {
		t.Fatalf("重启失败时 supervisor 应以失败原因退出: %v", reason)
	}
	eventually(t, "b 上的子进程随链接断开退出", func() bool {
		return !b.Scheduler().Alive(second)
	})
}
