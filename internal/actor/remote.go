package actor

// MonitorRef 监视引用，同一对进程之间的多个监视互不影响
type MonitorRef uint64

// Remote 分布式层实现，调度器把目标为远程 PID 的操作交给它
type Remote interface {
	Send(from, to PID, tag uint64, payload []byte) error
	// SendNamed 发给 node 上注册为 name 的进程
	SendNamed(from PID, name, node string, tag uint64, payload []byte) error
	Link(from, to PID) error
	Unlink(from, to PID)
	Exit(from, to PID, reason ExitReason, link bool) error
	Monitor(watcher, target PID, ref MonitorRef) error
	Demonitor(watcher, target PID, ref MonitorRef)
	Down(watcher PID, ref MonitorRef, from PID, reason ExitReason)
}

// AcceptLink 远端请求与本地进程建立链接
func (s *Scheduler) AcceptLink(local, remote PID) bool {
	p := s.lookup(local)
	return p != nil && p.addLink(remote)
}

// DropLink 远端解除链接
func (s *Scheduler) DropLink(local, remote PID) {
	if p := s.lookup(local); p != nil {
		p.removeLink(remote)
	}
}

// AcceptMonitor 远端请求监视本地进程
func (s *Scheduler) AcceptMonitor(target PID, ref MonitorRef, watcher PID) bool {
	p := s.lookup(target)
	return p != nil && p.addWatcher(ref, watcher)
}

// DropMonitor 远端取消监视
func (s *Scheduler) DropMonitor(target PID, ref MonitorRef, watcher PID) {
	if p := s.lookup(target); p != nil {
		p.removeWatcher(ref, watcher)
	}
}

// DeliverExit 把远端发来的退出信号交给本地进程
func (s *Scheduler) DeliverExit(from, to PID, reason ExitReason, link bool) {
	s.deliverExit(from, to, reason, link)
}

// DeliverDown 把远端发来的 DOWN 交给本地监视者
func (s *Scheduler) DeliverDown(watcher PID, ref MonitorRef, from PID, reason ExitReason) {
	s.deliverDown(watcher, ref, from, reason)
}

// NodeDown 节点断开后为所有引用该节点 PID 的链接和监视合成 Noconnection
// 每条链接和监视都经过原子的删除检查，与同时到达的网络信号竞争时也只触发一次
func (s *Scheduler) NodeDown(nodeID uint16) int {
	type pendingDown struct {
		ref    MonitorRef
		target PID
	}
	fired := 0
	for _, p := range s.snapshot() {
		var links []PID
		var downs []pendingDown
		p.mu.Lock()
		if !p.exited {
			for pid := range p.links {
				if pid.NodeID() == nodeID {
					links = append(links, pid)
				}
			}
			for ref, target := range p.monitors {
				if target.NodeID() == nodeID {
					downs = append(downs, pendingDown{ref: ref, target: target})
				}
			}
			for key := range p.monitoredBy {
				if key.watcher.NodeID() == nodeID {
					delete(p.monitoredBy, key)
				}
			}
		}
		p.mu.Unlock()

		for _, pid := range links {
			if p.signal(pid, Noconnection, true) {
				fired++
			}
		}
		for _, d := range downs {
			if _, ok := p.takeMonitor(d.ref); ok {
				fired++
				p.push(&Message{Tag: DownSignalTag, From: d.target, Payload: DownSignal{Ref: d.ref, From: d.target, Reason: Noconnection}.Encode()})
			}
		}
	}
	return fired
}
