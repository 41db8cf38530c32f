package actor

import (
	"github.com/dzm2020/mesh/pkg/glog"
	"go.uber.org/zap"
)

// deliverExit 发送退出信号，目标已不存在时是空操作
func (s *Scheduler) deliverExit(from, to PID, reason ExitReason, link bool) {
	if !to.IsLocal() {
		if r := s.getRemote(); r != nil {
			if err := r.Exit(from, to, reason, link); err != nil {
				glog.Debug("远程退出信号发送失败", zap.Stringer("from", from), zap.Stringer("to", to), zap.Error(err))
			}
		}
		return
	}
	if p := s.lookup(to); p != nil {
		p.signal(from, reason, link)
	}
}

// deliverDown 向监视者投递 DOWN，监视已被取消或已经投递过时忽略
func (s *Scheduler) deliverDown(watcher PID, ref MonitorRef, from PID, reason ExitReason) {
	if !watcher.IsLocal() {
		if r := s.getRemote(); r != nil {
			r.Down(watcher, ref, from, reason)
		}
		return
	}
	p := s.lookup(watcher)
	if p == nil {
		return
	}
	if _, ok := p.takeMonitor(ref); !ok {
		return
	}
	p.push(&Message{Tag: DownSignalTag, From: from, Payload: DownSignal{Ref: ref, From: from, Reason: reason}.Encode()})
}

// dropWatcher 从目标上删除 watcher 的监视记录
func (s *Scheduler) dropWatcher(target PID, ref MonitorRef, watcher PID) {
	if !target.IsLocal() {
		if r := s.getRemote(); r != nil {
			r.Demonitor(watcher, target, ref)
		}
		return
	}
	if p := s.lookup(target); p != nil {
		p.removeWatcher(ref, watcher)
	}
}

// dropLink 删除对端记录的链接
func (s *Scheduler) dropLink(target, self PID) {
	if !target.IsLocal() {
		if r := s.getRemote(); r != nil {
			r.Unlink(self, target)
		}
		return
	}
	if p := s.lookup(target); p != nil {
		p.removeLink(self)
	}
}

func isDownFor(ref MonitorRef) func(*Message) bool {
	return func(m *Message) bool {
		if m.Tag != DownSignalTag {
			return false
		}
		down, ok := m.DownSignal()
		return ok && down.Ref == ref
	}
}
