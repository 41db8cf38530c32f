package dist

import (
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"go.uber.org/zap"
)

// dispatch 在会话读协程中按到达顺序处理，处理函数不能阻塞
func (n *Node) dispatch(s *session, op uint8, body []byte) error {
	d := newDecoder(body)
	switch op {
	case OpSend:
		return n.handleSend(s, d)
	case OpRegSend:
		return n.handleRegSend(s, d)
	case OpSpawnRequest:
		return n.handleSpawnRequest(s, d)
	case OpSpawnReply:
		return n.handleSpawnReply(s, d)
	case OpLink:
		return n.handleLink(s, d)
	case OpUnlink:
		return n.handleUnlink(s, d)
	case OpExit:
		return n.handleExit(s, d)
	case OpMonitor:
		return n.handleMonitor(s, d)
	case OpDemonitor:
		return n.handleDemonitor(s, d)
	case OpDown:
		return n.handleDown(s, d)
	case OpPeerList:
		return n.handlePeerList(s, d)
	case OpGlobalRegister:
		return n.handleGlobalRegister(s, d)
	case OpGlobalUnregister:
		return n.handleGlobalUnregister(s, d)
	case OpGlobalSync:
		return n.handleGlobalSync(s, d)
	case OpBroadcast:
		return n.handleBroadcast(s, d)
	case OpHeartbeat:
		return nil
	}
	return errs.ErrUnknownOp(op)
}

// localTarget 只处理发往本节点的帧，不做转发
func localTarget(op uint8, pid actor.PID) bool {
	if pid.IsLocal() {
		return true
	}
	glog.Debug("丢弃不属于本节点的帧", zap.Uint8("op", op), zap.Stringer("to", pid))
	return false
}

func (n *Node) handleSend(s *session, d *decoder) error {
	from := d.pid(n, s.id)
	to := d.pid(n, s.id)
	tag := d.u64()
	payload := d.rest()
	if d.err != nil {
		return errs.ErrBadFrame(OpSend, d.err)
	}
	if localTarget(OpSend, to) {
		if err := n.sched.Send(from, to, tag, payload); err != nil {
			glog.Debug("远程消息投递失败", zap.Stringer("from", from), zap.Stringer("to", to), zap.Error(err))
		}
	}
	return nil
}

func (n *Node) handleRegSend(s *session, d *decoder) error {
	from := d.pid(n, s.id)
	name := d.str()
	tag := d.u64()
	payload := d.rest()
	if d.err != nil {
		return errs.ErrBadFrame(OpRegSend, d.err)
	}
	if err := n.sched.SendNamed(from, name, tag, payload); err != nil {
		glog.Debug("远程具名消息投递失败", zap.String("name", name), zap.Error(err))
	}
	return nil
}

// handleLink 本地目标不存在时回一个 Noproc 退出信号
func (n *Node) handleLink(s *session, d *decoder) error {
	from := d.pid(n, s.id)
	to := d.pid(n, s.id)
	if d.err != nil {
		return errs.ErrBadFrame(OpLink, d.err)
	}
	if localTarget(OpLink, to) && !n.sched.AcceptLink(to, from) {
		_ = n.Exit(to, from, actor.Noproc, true)
	}
	return nil
}

func (n *Node) handleUnlink(s *session, d *decoder) error {
	from := d.pid(n, s.id)
	to := d.pid(n, s.id)
	if d.err != nil {
		return errs.ErrBadFrame(OpUnlink, d.err)
	}
	if localTarget(OpUnlink, to) {
		n.sched.DropLink(to, from)
	}
	return nil
}

func (n *Node) handleExit(s *session, d *decoder) error {
	from := d.pid(n, s.id)
	to := d.pid(n, s.id)
	link := d.flag()
	reason := d.reason()
	if d.err != nil {
		return errs.ErrBadFrame(OpExit, d.err)
	}
	if localTarget(OpExit, to) {
		n.sched.DeliverExit(from, to, reason, link)
	}
	return nil
}

func (n *Node) handleMonitor(s *session, d *decoder) error {
	watcher := d.pid(n, s.id)
	target := d.pid(n, s.id)
	ref := actor.MonitorRef(d.u64())
	if d.err != nil {
		return errs.ErrBadFrame(OpMonitor, d.err)
	}
	if localTarget(OpMonitor, target) && !n.sched.AcceptMonitor(target, ref, watcher) {
		n.Down(watcher, ref, target, actor.Noproc)
	}
	return nil
}

func (n *Node) handleDemonitor(s *session, d *decoder) error {
	watcher := d.pid(n, s.id)
	target := d.pid(n, s.id)
	ref := actor.MonitorRef(d.u64())
	if d.err != nil {
		return errs.ErrBadFrame(OpDemonitor, d.err)
	}
	if localTarget(OpDemonitor, target) {
		n.sched.DropMonitor(target, ref, watcher)
	}
	return nil
}

func (n *Node) handleDown(s *session, d *decoder) error {
	watcher := d.pid(n, s.id)
	ref := actor.MonitorRef(d.u64())
	from := d.pid(n, s.id)
	reason := d.reason()
	if d.err != nil {
		return errs.ErrBadFrame(OpDown, d.err)
	}
	if localTarget(OpDown, watcher) {
		n.sched.DeliverDown(watcher, ref, from, reason)
	}
	return nil
}
