package bridge

import (
	"sync"
	"testing"

	"github.com/dzm2020/mesh/internal/dist"
	"golang.org/x/exp/slices"
)

type fakeCluster struct {
	mu      sync.Mutex
	sent    [][]byte
	handler dist.BroadcastHandler
}

func (c *fakeCluster) Broadcast(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == RoomTopic {
		c.sent = append(c.sent, payload)
	}
	return nil
}

func (c *fakeCluster) HandleBroadcast(topic string, h dist.BroadcastHandler) {
	if topic == RoomTopic {
		c.handler = h
	}
}

func (c *fakeCluster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newRoomBridge(t *testing.T) (*Bridge, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	return newBridge(newTestScheduler(t), src, loadOptions()), src
}

func drained(src *fakeSource) []string {
	var out []string
	for {
		select {
		case data := <-src.written:
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestRooms_JoinLeaveMembers(t *testing.T) {
	r := NewRooms(nil)
	b1, _ := newRoomBridge(t)
	b2, _ := newRoomBridge(t)
	if err := r.Join("", b1); err == nil {
		t.Fatal("空房间名应当失败")
	}
	_ = r.Join("lobby", b1)
	_ = r.Join("lobby", b2)
	_ = r.Join("game", b2)

	if got := r.Members("lobby"); !slices.Equal(got, []uint64{b1.ID(), b2.ID()}) {
		t.Fatalf("成员不符: %v", got)
	}
	if got := r.Names(); !slices.Equal(got, []string{"game", "lobby"}) {
		t.Fatalf("房间列表不符: %v", got)
	}
	if !r.Leave("game", b2) || r.Leave("game", b2) {
		t.Fatal("离开结果不符")
	}
	if got := r.Names(); !slices.Equal(got, []string{"lobby"}) {
		t.Fatalf("空房间应被删除: %v", got)
	}

	_ = b1.Close()
	eventually(t, "关闭的连接离开所有房间", func() bool {
		return slices.Equal(r.Members("lobby"), []uint64{b2.ID()})
	})
	if err := r.Join("lobby", b1); err == nil {
		t.Fatal("已关闭的连接不能加入房间")
	}
}

func TestRooms_BroadcastExcept(t *testing.T) {
	cluster := &fakeCluster{}
	r := NewRooms(cluster)
	b1, s1 := newRoomBridge(t)
	b2, s2 := newRoomBridge(t)
	b3, s3 := newRoomBridge(t)
	_ = r.Join("lobby", b1)
	_ = r.Join("lobby", b2)
	_ = r.Join("other", b3)

	if err := r.Broadcast("lobby", Text, []byte("hi")); err != nil {
		t.Fatal(err)
	}
	if err := r.BroadcastExcept("lobby", b1, Text, []byte("skip")); err != nil {
		t.Fatal(err)
	}
	if got := drained(s1); !slices.Equal(got, []string{"hi"}) {
		t.Fatalf("b1 收到的消息不符: %v", got)
	}
	if got := drained(s2); !slices.Equal(got, []string{"hi", "skip"}) {
		t.Fatalf("b2 收到的消息不符: %v", got)
	}
	if got := drained(s3); len(got) != 0 {
		t.Fatalf("其他房间不应收到: %v", got)
	}
	if cluster.count() != 2 {
		t.Fatalf("每次广播都应交给集群: %d", cluster.count())
	}
}

func TestRooms_ClusterDeliveryStaysLocal(t *testing.T) {
	origin := &fakeCluster{}
	remote := &fakeCluster{}
	a := NewRooms(origin)
	b := NewRooms(remote)
	local, _ := newRoomBridge(t)
	far, farSrc := newRoomBridge(t)
	_ = a.Join("lobby", local)
	_ = b.Join("lobby", far)

	_ = a.Broadcast("lobby", Binary, []byte("x"))
	if origin.count() != 1 || remote.handler == nil {
		t.Fatal("广播应交给集群")
	}
	remote.handler(origin.sent[0])
	if got := drained(farSrc); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("远端房间成员应收到: %v", got)
	}
	if remote.count() != 0 {
		t.Fatal("从集群收到的消息不应再次转发")
	}

	remote.handler([]byte{0xc1})
	if got := drained(farSrc); len(got) != 0 {
		t.Fatalf("无法解析的消息应被丢弃: %v", got)
	}
}
