package bridge

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
)

// freeAddr gnet 不返回实际端口，先占用一个再释放
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return "127.0.0.1:" + strconv.Itoa(port)
}

func startTCP(t *testing.T, sched *actor.Scheduler, events chan event) *TCPServer {
	t.Helper()
	srv := NewTCPServer(sched, freeAddr(t), false, WithMaxFrameSize(64))
	err := srv.Start(func(b *Bridge) (actor.PID, error) {
		bch := make(chan *Bridge, 1)
		bch <- b
		return sched.Spawn(echoOwner(bch, events), nil)
	})
	if err != nil {
		t.Fatalf("启动 TCP 服务失败: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestTCP_EchoFrames(t *testing.T) {
	sched := newTestScheduler(t)
	events := make(chan event, 8)
	srv := startTCP(t, sched, events)
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if ev := recv(t, events); ev.tag != actor.BridgeConnectTag {
		t.Fatalf("应先收到连接通知: %+v", ev)
	}

	// 两帧一次写出，服务端需要自己拆开
	buf := append(encodeFrame([]byte("a")), encodeFrame([]byte("bc"))...)
	if _, err = conn.Write(buf[:3]); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err = conn.Write(buf[3:]); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	peer := NewConnSource(conn)
	for _, want := range []string{"echo:a", "echo:bc"} {
		_, data, err := peer.Read()
		if err != nil || string(data) != want {
			t.Fatalf("回写不符: %q %v, 期望 %q", data, err, want)
		}
	}
	if srv.Count() != 1 {
		t.Fatalf("连接数不符: %d", srv.Count())
	}

	_ = conn.Close()
	if ev := recv(t, events); ev.tag != actor.BridgeDisconnectTag {
		t.Fatalf("应收到断开通知: %+v", ev)
	}
	eventually(t, "连接从服务器移除", func() bool { return srv.Count() == 0 })
}

func TestTCP_OversizedFrameClosesConnection(t *testing.T) {
	sched := newTestScheduler(t)
	events := make(chan event, 8)
	srv := startTCP(t, sched, events)
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	recv(t, events)

	_, _ = conn.Write(encodeFrame(make([]byte, 128)))
	if ev := recv(t, events); ev.tag != actor.BridgeDisconnectTag {
		t.Fatalf("超长帧应断开连接: %+v", ev)
	}
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err = conn.Read(make([]byte, 8)); err == nil {
		t.Fatal("客户端应读到连接关闭")
	}
}

func TestTCP_OwnerCrashClosesConnection(t *testing.T) {
	sched := newTestScheduler(t)
	events := make(chan event, 8)
	srv := startTCP(t, sched, events)
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	recv(t, events)

	_, _ = conn.Write(encodeFrame([]byte("crash")))
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, err = conn.Read(make([]byte, 8)); err == nil || isTimeout(err) {
		t.Fatalf("所属进程崩溃后连接应被关闭: %v", err)
	}
	eventually(t, "连接从服务器移除", func() bool { return srv.Count() == 0 })
}
