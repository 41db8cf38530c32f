package bridge

import (
	"sort"
	"sync"

	"github.com/dzm2020/mesh/internal/dist"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/serializer"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"go.uber.org/zap"
)

// RoomTopic 房间广播使用的集群广播主题
const RoomTopic = "bridge.rooms"

// Cluster 集群广播，由 dist.Node 实现
type Cluster interface {
	Broadcast(topic string, payload []byte) error
	HandleBroadcast(topic string, h dist.BroadcastHandler)
}

type roomMessage struct {
	Room string `msgpack:"room"`
	Kind Kind   `msgpack:"kind"`
	Data []byte `msgpack:"data"`
}

// Rooms 连接分组，广播先发给本节点成员再交给集群
// 从集群收到的房间消息只发给本节点成员
type Rooms struct {
	mu      sync.RWMutex
	rooms   map[string]map[uint64]*Bridge
	joined  map[uint64]map[string]struct{}
	cluster Cluster
}

// NewRooms cluster 为 nil 时只在本节点广播
func NewRooms(cluster Cluster) *Rooms {
	r := &Rooms{
		rooms:   make(map[string]map[uint64]*Bridge),
		joined:  make(map[uint64]map[string]struct{}),
		cluster: cluster,
	}
	if cluster != nil {
		cluster.HandleBroadcast(RoomTopic, r.onCluster)
	}
	return r
}

// Join 连接关闭时自动离开所有房间
func (r *Rooms) Join(room string, b *Bridge) error {
	if room == "" {
		return errs.ErrNameCannotBeEmpty
	}
	if b.IsStop() {
		return errs.ErrBridgeClosed
	}
	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[uint64]*Bridge)
		r.rooms[room] = members
	}
	members[b.ID()] = b
	rooms, tracked := r.joined[b.ID()]
	if !tracked {
		rooms = make(map[string]struct{})
		r.joined[b.ID()] = rooms
	}
	rooms[room] = struct{}{}
	r.mu.Unlock()

	if !tracked {
		b.OnClose(r.Cleanup)
	}
	return nil
}

// Leave 不在房间中时返回 false
func (r *Rooms) Leave(room string, b *Bridge) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(room, b.ID())
}

func (r *Rooms) leaveLocked(room string, id uint64) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok = members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if rooms, ok := r.joined[id]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, id)
		}
	}
	return true
}

// Cleanup 把连接从所有房间移除
func (r *Rooms) Cleanup(b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.joined[b.ID()] {
		r.leaveLocked(room, b.ID())
	}
	delete(r.joined, b.ID())
}

// Members 本节点房间成员的连接编号，按升序
func (r *Rooms) Members(room string) []uint64 {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Names 本节点非空房间名
func (r *Rooms) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Broadcast 发给房间所有成员，包括其他节点上的成员
func (r *Rooms) Broadcast(room string, kind Kind, data []byte) error {
	return r.BroadcastExcept(room, nil, kind, data)
}

// BroadcastExcept 跳过 except，except 只对本节点有意义
func (r *Rooms) BroadcastExcept(room string, except *Bridge, kind Kind, data []byte) error {
	r.deliverLocal(room, except, kind, data)
	if r.cluster == nil {
		return nil
	}
	payload, err := serializer.MsgPack.Marshal(&roomMessage{Room: room, Kind: kind, Data: data})
	if err != nil {
		return xerror.Wrap(err, "marshal room message")
	}
	return r.cluster.Broadcast(RoomTopic, payload)
}

func (r *Rooms) onCluster(payload []byte) {
	var msg roomMessage
	if err := serializer.MsgPack.Unmarshal(payload, &msg); err != nil {
		glog.Warn("房间广播解析失败", zap.Error(err))
		return
	}
	r.deliverLocal(msg.Room, nil, msg.Kind, msg.Data)
}

// deliverLocal 单个连接写失败不影响其他成员
func (r *Rooms) deliverLocal(room string, except *Bridge, kind Kind, data []byte) int {
	r.mu.RLock()
	targets := make([]*Bridge, 0, len(r.rooms[room]))
	for _, b := range r.rooms[room] {
		if b != except {
			targets = append(targets, b)
		}
	}
	r.mu.RUnlock()
	sent := 0
	for _, b := range targets {
		if err := b.write(kind, data); err != nil {
			glog.Debug("房间消息写入失败", zap.String("room", room), zap.Uint64("bridge", b.ID()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
