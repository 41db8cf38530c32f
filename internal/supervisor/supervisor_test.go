package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
)

func newTestScheduler(t *testing.T) *actor.Scheduler {
	t.Helper()
	s := actor.NewScheduler(actor.WithWorkers(4))
	s.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func worker(ctx *actor.Context, _ []byte) {
	for {
		ctx.Receive(actor.Infinity)
	}
}

func spec(id string, restart RestartType) ChildSpec {
	return ChildSpec{ID: id, Start: worker, Restart: restart, Shutdown: WithTimeout(time.Second)}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", desc)
}

func children(t *testing.T, s *actor.Scheduler, sup actor.PID) []ChildInfo {
	t.Helper()
	infos, err := WhichChildren(s, sup)
	if err != nil {
		t.Fatalf("WhichChildren 失败: %v", err)
	}
	return infos
}

func TestSupervisor_OneForOne(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    OneForOne,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children:    []ChildSpec{spec("c1", Permanent), spec("c2", Permanent)},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	before := children(t, s, sup)
	s.Exit(before[0].PID, actor.Custom("crash"))

	waitFor(t, "c1 重启", func() bool {
		now := children(t, s, sup)
		return now[0].Running && now[0].PID != before[0].PID
	})
	after := children(t, s, sup)
	if after[1].PID != before[1].PID {
		t.Errorf("one_for_one 不应重启 c2: %s -> %s", before[1].PID, after[1].PID)
	}
	if after[0].Restarts != 1 || after[1].Restarts != 0 {
		t.Errorf("重启计数错误: %d %d", after[0].Restarts, after[1].Restarts)
	}
}

func TestSupervisor_OneForAll(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    OneForAll,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children:    []ChildSpec{spec("c1", Permanent), spec("c2", Permanent)},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	before := children(t, s, sup)
	oldC2 := s.Watch(before[1].PID)
	s.Exit(before[0].PID, actor.Custom("crash"))

	if r := recvReason(t, oldC2); r.Kind != actor.ExitShutdown {
		t.Errorf("兄弟进程应以 shutdown 终止: %s", r)
	}
	waitFor(t, "全部重启", func() bool {
		now := children(t, s, sup)
		return now[0].Running && now[1].Running && now[0].PID != before[0].PID
	})
	after := children(t, s, sup)
	if after[1].PID == before[1].PID {
		t.Error("one_for_all 应该重启 c2")
	}
	if after[0].Restarts != before[0].Restarts+1 {
		t.Errorf("c1 重启计数应加 1: %d", after[0].Restarts)
	}
}

func TestSupervisor_RestForOne(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    RestForOne,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children:    []ChildSpec{spec("c1", Permanent), spec("c2", Permanent), spec("c3", Permanent)},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	before := children(t, s, sup)
	s.Exit(before[1].PID, actor.Custom("crash"))
	waitFor(t, "c2 c3 重启", func() bool {
		now := children(t, s, sup)
		return now[1].Running && now[2].Running && now[1].PID != before[1].PID && now[2].PID != before[2].PID
	})
	if after := children(t, s, sup); after[0].PID != before[0].PID {
		t.Error("rest_for_one 不应重启之前的子进程")
	}
}

func TestSupervisor_Escalation(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    OneForOne,
		MaxRestarts: 2,
		MaxSeconds:  5,
		Children:    []ChildSpec{spec("c1", Permanent)},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	exited := s.Watch(sup)
	for i := 0; i < 2; i++ {
		cur := children(t, s, sup)[0].PID
		s.Exit(cur, actor.Custom("crash"))
		waitFor(t, "重启", func() bool {
			now := children(t, s, sup)[0]
			return now.Running && now.PID != cur
		})
	}
	last := children(t, s, sup)[0].PID
	s.Exit(last, actor.Custom("crash"))
	if r := recvReason(t, exited); r.Kind != actor.ExitShutdown {
		t.Errorf("超过重启限制应以 shutdown 退出: %s", r)
	}
}

func TestSupervisor_RestartTypes(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    OneForOne,
		MaxRestarts: 10,
		MaxSeconds:  5,
		Children: []ChildSpec{
			spec("transient", Transient),
			spec("temporary", Temporary),
			spec("transient2", Transient),
		},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	before := children(t, s, sup)

	s.Exit(before[0].PID, actor.Shutdown)
	waitFor(t, "transient 正常结束", func() bool { return !children(t, s, sup)[0].Running })

	s.Exit(before[1].PID, actor.Custom("crash"))
	waitFor(t, "temporary 被移除", func() bool { return len(children(t, s, sup)) == 2 })

	s.Exit(before[2].PID, actor.Custom("crash"))
	waitFor(t, "transient 异常退出后重启", func() bool {
		now := children(t, s, sup)
		return now[1].Running && now[1].PID != before[2].PID
	})
	if now := children(t, s, sup); now[0].Running {
		t.Error("transient 以 shutdown 结束后不应重启")
	}
}

func TestSupervisor_ReverseShutdown(t *testing.T) {
	s := newTestScheduler(t)
	var mu sync.Mutex
	var order []string
	trapping := func(id string) ChildSpec {
		return ChildSpec{ID: id, Restart: Permanent, Shutdown: WithTimeout(time.Second), Start: func(ctx *actor.Context, _ []byte) {
			ctx.TrapExit(true)
			ctx.ReceiveTag(actor.ExitSignalTag, actor.Infinity)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}}
	}
	sup, err := Start(s, Config{
		Strategy:    OneForOne,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children:    []ChildSpec{trapping("c1"), trapping("c2"), trapping("c3")},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if err := Stop(s, sup, 3*time.Second); err != nil {
		t.Fatalf("停止失败: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"c3", "c2", "c1"}
	if len(order) != 3 {
		t.Fatalf("终止顺序错误: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("应逆序终止: %v", order)
		}
	}
}

func TestSupervisor_ShutdownTimeoutKills(t *testing.T) {
	s := newTestScheduler(t)
	stubborn := ChildSpec{ID: "stubborn", Restart: Permanent, Shutdown: WithTimeout(50 * time.Millisecond), Start: func(ctx *actor.Context, _ []byte) {
		ctx.TrapExit(true)
		worker(ctx, nil)
	}}
	sup, err := Start(s, Config{Strategy: OneForOne, MaxRestarts: 1, MaxSeconds: 5, Children: []ChildSpec{stubborn}})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	pid := children(t, s, sup)[0].PID
	w := s.Watch(pid)
	if err := TerminateChild(s, sup, "stubborn"); err != nil {
		t.Fatalf("TerminateChild 失败: %v", err)
	}
	if r := recvReason(t, w); r.Kind != actor.ExitKilled {
		t.Errorf("忽略 shutdown 的子进程应被 kill: %s", r)
	}
	if c := children(t, s, sup)[0]; c.Running {
		t.Error("终止后不应处于运行状态")
	}
	newPID, err := RestartChild(s, sup, "stubborn")
	if err != nil || newPID == pid {
		t.Errorf("RestartChild 失败: %v", err)
	}
}

func TestSupervisor_SimpleOneForOne(t *testing.T) {
	s := newTestScheduler(t)
	sup, err := Start(s, Config{
		Strategy:    SimpleOneForOne,
		MaxRestarts: 3,
		MaxSeconds:  5,
		Children:    []ChildSpec{spec("conn", Temporary)},
	})
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	if n := len(children(t, s, sup)); n != 0 {
		t.Fatalf("simple_one_for_one 启动时不应有子进程: %d", n)
	}
	p1, err := StartChild(s, sup, ChildSpec{Args: []byte("a")})
	if err != nil {
		t.Fatalf("StartChild 失败: %v", err)
	}
	if _, err = StartChild(s, sup, ChildSpec{Args: []byte("b")}); err != nil {
		t.Fatalf("StartChild 失败: %v", err)
	}
	counts, _ := CountChildren(s, sup)
	if counts.Active != 2 || counts.Workers != 2 {
		t.Errorf("计数错误: %+v", counts)
	}
	s.Exit(p1, actor.Custom("crash"))
	waitFor(t, "临时子进程被移除", func() bool { return len(children(t, s, sup)) == 1 })
	if err := DeleteChild(s, sup, "conn-2"); err == nil {
		t.Error("simple_one_for_one 不支持 DeleteChild")
	}
}

func TestSupervisor_StartFailureRollback(t *testing.T) {
	s := newTestScheduler(t)
	first := ChildSpec{ID: "ok", Restart: Permanent, Shutdown: Kill(), Start: worker}
	broken := ChildSpec{ID: "broken", Restart: Permanent, StartFuncName: "missing"}
	_, err := Start(s, Config{Strategy: OneForOne, MaxRestarts: 1, MaxSeconds: 5, Children: []ChildSpec{first, broken}})
	if err == nil {
		t.Fatal("缺少启动函数时应启动失败")
	}
	waitFor(t, "已启动的子进程被回滚", func() bool { return s.Count() == 0 })
}

func TestSupervisor_StartFuncByName(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.RegisterFunc("worker", worker); err != nil {
		t.Fatalf("登记函数失败: %v", err)
	}
	sup, err := Start(s, Config{Strategy: OneForOne, MaxRestarts: 1, MaxSeconds: 5, Children: []ChildSpec{
		{ID: "named", Restart: Permanent, StartFuncName: "worker"},
	}})
	if err != nil {
		t.Fatalf("按名字启动失败: %v", err)
	}
	if c := children(t, s, sup)[0]; !c.Running {
		t.Error("子进程应处于运行状态")
	}
}

func TestSupervisor_StartLinkEscalatesToParent(t *testing.T) {
	s := newTestScheduler(t)
	supCh := make(chan actor.PID, 1)
	parent, _ := s.Spawn(func(ctx *actor.Context, _ []byte) {
		sup, err := StartLink(ctx, Config{Strategy: OneForOne, MaxRestarts: 0, MaxSeconds: 5, Children: []ChildSpec{spec("c1", Permanent)}})
		if err != nil {
			supCh <- 0
			return
		}
		supCh <- sup
		worker(ctx, nil)
	}, nil)
	sup := <-supCh
	if sup == 0 {
		t.Fatal("StartLink 失败")
	}
	parentExit := s.Watch(parent)
	c1 := children(t, s, sup)[0].PID
	s.Exit(c1, actor.Custom("crash"))
	if r := recvReason(t, parentExit); r.Kind != actor.ExitShutdown {
		t.Errorf("supervisor 升级应传播到父进程: %s", r)
	}
}

func TestRestartWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	sup := &supervisor{cfg: Config{MaxRestarts: 2, MaxSeconds: 5}, now: func() time.Time { return now }}
	if !sup.allowRestart() || !sup.allowRestart() {
		t.Fatal("窗口内前两次应允许")
	}
	if sup.allowRestart() {
		t.Fatal("第三次应超过限制")
	}
	now = now.Add(6 * time.Second)
	if !sup.allowRestart() {
		t.Error("窗口滑过后应重新允许")
	}
}

func recvReason(t *testing.T, ch <-chan actor.ExitReason) actor.ExitReason {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("等待退出超时")
	}
	return actor.ExitReason{}
}
