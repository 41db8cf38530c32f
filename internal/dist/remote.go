package dist

import (
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
)

// 调度器遇到远程 PID 时调用下面这些方法，每个操作对应一种帧

func (n *Node) Send(from, to actor.PID, tag uint64, payload []byte) error {
	s := n.sessionFor(to)
	if s == nil {
		return errs.ErrNodeNotConnected
	}
	body := newEncoder(48+len(payload)).pid(n, from).pid(n, to).u64(tag).raw(payload).bytesOut()
	return s.send(OpSend, body)
}

// SendNamed 发给 node 上的注册名，node 是本节点时按本地名字投递
func (n *Node) SendNamed(from actor.PID, name, node string, tag uint64, payload []byte) error {
	if node == n.name {
		return n.sched.SendNamed(from, name, tag, payload)
	}
	s := n.sessionByName(node)
	if s == nil {
		return errs.ErrNodeNotConnected
	}
	body := newEncoder(32+len(name)+len(payload)).pid(n, from).str(name).u64(tag).raw(payload).bytesOut()
	return s.send(OpRegSend, body)
}

func (n *Node) Link(from, to actor.PID) error {
	s := n.sessionFor(to)
	if s == nil {
		return errs.ErrNodeNotConnected
	}
	return s.send(OpLink, newEncoder(48).pid(n, from).pid(n, to).bytesOut())
}

func (n *Node) Unlink(from, to actor.PID) {
	if s := n.sessionFor(to); s != nil {
		_ = s.send(OpUnlink, newEncoder(48).pid(n, from).pid(n, to).bytesOut())
	}
}

// Exit 跨节点退出信号，link 表示是否沿链接传播
func (n *Node) Exit(from, to actor.PID, reason actor.ExitReason, link bool) error {
	s := n.sessionFor(to)
	if s == nil {
		return errs.ErrNodeNotConnected
	}
	body := newEncoder(64+len(reason.Data)).pid(n, from).pid(n, to).flag(link).reason(reason).bytesOut()
	return s.send(OpExit, body)
}

func (n *Node) Monitor(watcher, target actor.PID, ref actor.MonitorRef) error {
	s := n.sessionFor(target)
	if s == nil {
		return errs.ErrNodeNotConnected
	}
	return s.send(OpMonitor, newEncoder(56).pid(n, watcher).pid(n, target).u64(uint64(ref)).bytesOut())
}

func (n *Node) Demonitor(watcher, target actor.PID, ref actor.MonitorRef) {
	if s := n.sessionFor(target); s != nil {
		_ = s.send(OpDemonitor, newEncoder(56).pid(n, watcher).pid(n, target).u64(uint64(ref)).bytesOut())
	}
}

func (n *Node) Down(watcher actor.PID, ref actor.MonitorRef, from actor.PID, reason actor.ExitReason) {
	if s := n.sessionFor(watcher); s != nil {
		body := newEncoder(64+len(reason.Data)).pid(n, watcher).u64(uint64(ref)).pid(n, from).reason(reason).bytesOut()
		_ = s.send(OpDown, body)
	}
}
