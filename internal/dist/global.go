package dist

import (
	"context"
	"sort"
	"sync"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// globalRegistry 集群名字表在本节点的副本
// 注册和注销广播给所有会话，查询只读本地副本，先写者胜出
type globalRegistry struct {
	mu    sync.RWMutex
	names map[string]actor.PID
	byPID map[actor.PID][]string
}

func newGlobalRegistry() *globalRegistry {
	return &globalRegistry{
		names: make(map[string]actor.PID),
		byPID: make(map[actor.PID][]string),
	}
}

// register 名字已被其他 PID 占用时返回 false
func (g *globalRegistry) register(name string, pid actor.PID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if owner, ok := g.names[name]; ok {
		return owner == pid
	}
	g.names[name] = pid
	g.byPID[pid] = append(g.byPID[pid], name)
	return true
}

func (g *globalRegistry) unregister(name string) (actor.PID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pid, ok := g.names[name]
	if !ok {
		return 0, false
	}
	g.removeLocked(name, pid)
	return pid, true
}

func (g *globalRegistry) removeLocked(name string, pid actor.PID) {
	delete(g.names, name)
	list := g.byPID[pid]
	if i := slices.Index(list, name); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(g.byPID, pid)
	} else {
		g.byPID[pid] = list
	}
}

func (g *globalRegistry) whereis(name string) (actor.PID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pid, ok := g.names[name]
	return pid, ok
}

// dropPID 进程退出时移除它的所有名字
func (g *globalRegistry) dropPID(pid actor.PID) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := g.byPID[pid]
	delete(g.byPID, pid)
	for _, name := range names {
		delete(g.names, name)
	}
	return names
}

// dropNode 节点断开时移除该节点进程的所有名字
func (g *globalRegistry) dropNode(nodeID uint16) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var dropped []string
	for pid, names := range g.byPID {
		if pid.NodeID() != nodeID {
			continue
		}
		delete(g.byPID, pid)
		for _, name := range names {
			delete(g.names, name)
			dropped = append(dropped, name)
		}
	}
	return dropped
}

func (g *globalRegistry) snapshot() map[string]actor.PID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := make(map[string]actor.PID, len(g.names))
	for name, pid := range g.names {
		m[name] = pid
	}
	return m
}

// GlobalRegister 把本地进程注册为集群名字，已被占用时返回 ErrNameAlreadyRegistered
func (n *Node) GlobalRegister(name string, pid actor.PID) error {
	if name == "" {
		return errs.ErrNameCannotBeEmpty
	}
	if !pid.IsLocal() || !n.sched.Alive(pid) {
		return errs.ErrProcessNotFound
	}
	if !n.global.register(name, pid) {
		return errs.ErrNameAlreadyRegistered
	}
	body := newEncoder(32+len(name)).str(name).pid(n, pid).bytesOut()
	n.broadcastFrame(OpGlobalRegister, body)
	n.storeAsync(func(ctx context.Context, store RegistryStore) error {
		return store.Save(ctx, n.name, name, pid)
	})
	return nil
}

// GlobalUnregister 注销集群名字并通知所有节点
func (n *Node) GlobalUnregister(name string) bool {
	pid, ok := n.global.unregister(name)
	if !ok {
		return false
	}
	n.broadcastFrame(OpGlobalUnregister, newEncoder(2+len(name)).str(name).bytesOut())
	if pid.IsLocal() {
		n.storeAsync(func(ctx context.Context, store RegistryStore) error {
			return store.Delete(ctx, n.name, name)
		})
	}
	return true
}

// GlobalWhereis 只查本地副本
func (n *Node) GlobalWhereis(name string) (actor.PID, bool) {
	return n.global.whereis(name)
}

// GlobalNames 所有集群名字，按字母序
func (n *Node) GlobalNames() []string {
	snap := n.global.snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SendGlobal 发给集群名字
func (n *Node) SendGlobal(from actor.PID, name string, tag uint64, payload []byte) error {
	pid, ok := n.global.whereis(name)
	if !ok {
		return errs.ErrNameNotRegistered
	}
	return n.sched.Send(from, pid, tag, payload)
}

// onProcessExit 本地进程退出后撤销它的集群名字
func (n *Node) onProcessExit(pid actor.PID, _ actor.ExitReason) {
	names := n.global.dropPID(pid)
	if len(names) == 0 {
		return
	}
	workers.Submit(func() {
		for _, name := range names {
			n.broadcastFrame(OpGlobalUnregister, newEncoder(2+len(name)).str(name).bytesOut())
			n.storeAsync(func(ctx context.Context, store RegistryStore) error {
				return store.Delete(ctx, n.name, name)
			})
		}
	}, nil)
}

func (n *Node) sendGlobalSync(s *session) {
	snap := n.global.snapshot()
	e := newEncoder(4 + 32*len(snap)).u32(uint32(len(snap)))
	for name, pid := range snap {
		e.str(name).pid(n, pid)
	}
	_ = s.send(OpGlobalSync, e.bytesOut())
}

func (n *Node) mergeGlobal(s *session, name string, pid actor.PID) {
	if pid.IsZero() {
		return
	}
	if !n.global.register(name, pid) {
		owner, _ := n.global.whereis(name)
		glog.Warn("全局名字冲突，保留先注册者", zap.String("name", name), zap.Stringer("owner", owner), zap.Stringer("rejected", pid), zap.String("peer", s.name))
	}
}

func (n *Node) handleGlobalRegister(s *session, d *decoder) error {
	name := d.str()
	pid := d.pid(n, s.id)
	if d.err != nil {
		return errs.ErrBadFrame(OpGlobalRegister, d.err)
	}
	n.mergeGlobal(s, name, pid)
	return nil
}

func (n *Node) handleGlobalUnregister(s *session, d *decoder) error {
	name := d.str()
	if d.err != nil {
		return errs.ErrBadFrame(OpGlobalUnregister, d.err)
	}
	n.global.unregister(name)
	return nil
}

func (n *Node) handleGlobalSync(s *session, d *decoder) error {
	count := int(d.u32())
	for i := 0; i < count && d.err == nil; i++ {
		name := d.str()
		pid := d.pid(n, s.id)
		if d.err == nil {
			n.mergeGlobal(s, name, pid)
		}
	}
	if d.err != nil {
		return errs.ErrBadFrame(OpGlobalSync, d.err)
	}
	return nil
}

// sendPeerList 把已知节点告诉新会话，对端据此补齐全连接
func (n *Node) sendPeerList(s *session) {
	var peers []string
	for _, name := range n.Sessions() {
		if name != s.name {
			peers = append(peers, name)
		}
	}
	e := newEncoder(2 + 32*len(peers)).u16(uint16(len(peers)))
	for _, name := range peers {
		e.str(name)
	}
	_ = s.send(OpPeerList, e.bytesOut())
}

func (n *Node) handlePeerList(s *session, d *decoder) error {
	count := int(d.u16())
	peers := make([]string, 0, count)
	for i := 0; i < count && d.err == nil; i++ {
		peers = append(peers, d.str())
	}
	if d.err != nil {
		return errs.ErrBadFrame(OpPeerList, d.err)
	}
	for _, name := range peers {
		if name == n.name || n.sessionByName(name) != nil {
			continue
		}
		n.connectAsync(name)
	}
	return nil
}

// broadcastFrame 发给所有会话，单个会话失败不影响其他
func (n *Node) broadcastFrame(op uint8, body []byte) {
	for _, s := range n.allSessions() {
		if err := s.send(op, body); err != nil {
			glog.Debug("广播帧发送失败", zap.String("peer", s.name), zap.Uint8("op", op), zap.Error(err))
		}
	}
}
