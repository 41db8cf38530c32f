package dist

import (
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"go.uber.org/zap"
)

// pendingSpawn 等待 SPAWN_REPLY 的请求
// 进程内的请求通过邮箱收到回复，进程外的请求通过 ch
type pendingSpawn struct {
	caller actor.PID
	node   string
	link   bool
	ch     chan actor.PID
}

func (p *pendingSpawn) resolve(n *Node, reqID uint64, child actor.PID) {
	if p.ch != nil {
		p.ch <- child
		return
	}
	_ = n.sched.Post(child, p.caller, actor.SpawnReplyTag, actor.EncodeSpawnReply(reqID, child))
}

// RegisterFunc 登记可被远程 spawn 的入口
func (n *Node) RegisterFunc(name string, fn actor.EntryFunc) error {
	return n.sched.RegisterFunc(name, fn)
}

// SpawnRequest 发出远程 spawn 请求，回复以 SpawnReplyTag 消息送到 from
func (n *Node) SpawnRequest(from actor.PID, node, fn string, args []byte, link bool) (uint64, error) {
	return n.spawnRequest(&pendingSpawn{caller: from, node: node, link: link}, fn, args)
}

// SpawnRemote 在进程外同步地远程 spawn，不建立链接
func (n *Node) SpawnRemote(node, fn string, args []byte, timeout time.Duration) (actor.PID, error) {
	p := &pendingSpawn{node: node, ch: make(chan actor.PID, 1)}
	id, err := n.spawnRequest(p, fn, args)
	if err != nil {
		return 0, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pid := <-p.ch:
		if pid.IsZero() {
			return 0, errs.ErrSpawnFailed
		}
		return pid, nil
	case <-timer.C:
		n.pending.Delete(id)
		return 0, errs.ErrWaiterTimeout
	}
}

func (n *Node) spawnRequest(p *pendingSpawn, fn string, args []byte) (uint64, error) {
	s := n.sessionByName(p.node)
	if s == nil {
		return 0, errs.ErrNodeNotConnected
	}
	id := n.nextReq.Add(1)
	n.pending.Set(id, p)
	// 会话在登记之前已经关闭时，断线清理可能已经错过这个请求
	if s.IsStop() {
		n.pending.Delete(id)
		return 0, errs.ErrSessionClosed
	}
	body := newEncoder(48+len(fn)+len(args)).u64(id).pid(n, p.caller).flag(p.link).str(fn).bytes(args).bytesOut()
	if err := s.send(OpSpawnRequest, body); err != nil {
		n.pending.Delete(id)
		return 0, err
	}
	return id, nil
}

// failPending 节点断开时等待中的请求以 PID(0) 结束
func (n *Node) failPending(node string) {
	var ids []uint64
	n.pending.Range(func(id uint64, p *pendingSpawn) bool {
		if p.node == node {
			ids = append(ids, id)
		}
		return true
	})
	for _, id := range ids {
		if p, ok := n.pending.GetAndDelete(id); ok {
			p.resolve(n, id, 0)
		}
	}
}

// handleSpawnRequest 回复在子进程入队之前写出，保证它先于子进程发出的任何帧
func (n *Node) handleSpawnRequest(s *session, d *decoder) error {
	id := d.u64()
	caller := d.pid(n, s.id)
	link := d.flag()
	fn := d.str()
	args := d.bytes()
	if d.err != nil {
		return errs.ErrBadFrame(OpSpawnRequest, d.err)
	}
	reply := func(pid actor.PID) {
		_ = s.send(OpSpawnReply, newEncoder(24).u64(id).pid(n, pid).bytesOut())
	}
	entry, ok := n.sched.LookupFunc(fn)
	if !ok {
		glog.Warn("远程 spawn 函数不存在", zap.String("peer", s.name), zap.String("fn", fn))
		reply(0)
		return nil
	}
	options := []actor.SpawnOption{actor.BeforeStart(reply)}
	if link {
		options = append(options, actor.LinkTo(caller))
	}
	if _, err := n.sched.Spawn(entry, args, options...); err != nil {
		glog.Warn("远程 spawn 失败", zap.String("peer", s.name), zap.String("fn", fn), zap.Error(err))
		reply(0)
	}
	return nil
}

// handleSpawnReply 链接请求在把回复交给调用者之前完成本地一端
func (n *Node) handleSpawnReply(s *session, d *decoder) error {
	id := d.u64()
	child := d.pid(n, s.id)
	if d.err != nil {
		return errs.ErrBadFrame(OpSpawnReply, d.err)
	}
	p, ok := n.pending.GetAndDelete(id)
	if !ok {
		return nil
	}
	if !child.IsZero() && p.link && !n.sched.AcceptLink(p.caller, child) {
		_ = n.Exit(p.caller, child, actor.Noproc, true)
	}
	p.resolve(n, id, child)
	return nil
}
