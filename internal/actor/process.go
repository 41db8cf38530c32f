package actor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"go.uber.org/zap"
)

// State 进程状态
type State int32

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateExited:
		return "exited"
	}
	return "unknown"
}

// Priority 调度优先级，高优先级进程在同一个 worker 上先于普通进程运行
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

type yieldKind uint8

const (
	yieldPreempt yieldKind = iota
	yieldWait
	yieldExit
)

// resumeToken worker 交给进程的运行权，进程让出时把原因写回 yield
type resumeToken struct {
	worker int32
	yield  chan yieldKind
}

// exitPanic 在安全点终止进程
type exitPanic struct {
	reason ExitReason
}

type monitorKey struct {
	ref     MonitorRef
	watcher PID
}

// Process 一个 actor 实例
// 进程体运行在独立的 goroutine 中，只有持有 worker 发放的运行令牌时才会执行
type Process struct {
	pid      PID
	sched    *Scheduler
	entry    EntryFunc
	args     []byte
	priority Priority
	worker   int32

	state  atomic.Int32
	owner  atomic.Int32
	resume chan resumeToken
	token  resumeToken

	mailbox *Mailbox
	heap    *Heap
	current Handle

	reductions int
	trapExit   atomic.Bool
	pending    atomic.Pointer[ExitReason]
	waitSeq    atomic.Uint64
	timedOut   atomic.Bool

	mu          sync.Mutex
	exited      bool
	links       map[PID]struct{}
	monitors    map[MonitorRef]PID
	monitoredBy map[monitorKey]struct{}
	watches     []chan ExitReason

	reason    ExitReason
	done      chan struct{}
	startedAt time.Time
	ctx       *Context
	userState interface{}
}

func newProcess(s *Scheduler, pid PID, entry EntryFunc, args []byte, opts *SpawnOptions) *Process {
	p := &Process{
		pid:         pid,
		sched:       s,
		entry:       entry,
		args:        args,
		priority:    opts.Priority,
		resume:      make(chan resumeToken, 1),
		mailbox:     NewMailbox(),
		heap:        NewHeap(s.opts.GCThreshold),
		links:       make(map[PID]struct{}),
		monitors:    make(map[MonitorRef]PID),
		monitoredBy: make(map[monitorKey]struct{}),
		done:        make(chan struct{}),
		startedAt:   time.Now(),
	}
	p.owner.Store(-1)
	p.state.Store(int32(StateReady))
	p.trapExit.Store(opts.TrapExit)
	p.ctx = &Context{p: p, s: s}
	return p
}

func (p *Process) PID() PID {
	return p.pid
}

func (p *Process) State() State {
	return State(p.state.Load())
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Reason 退出原因，只有 Done 关闭后才有意义
func (p *Process) Reason() ExitReason {
	<-p.done
	return p.reason
}

// acquire 拿到运行令牌，同一时刻只能有一个 worker 持有
func (p *Process) acquire(tok resumeToken) {
	p.token = tok
	if !p.owner.CompareAndSwap(-1, tok.worker) {
		glog.Error("进程被多个 worker 同时恢复", zap.Stringer("pid", p.pid),
			zap.Int32("owner", p.owner.Load()), zap.Int32("worker", tok.worker))
		panic("actor: process resumed concurrently")
	}
}

// suspend 交还运行令牌，除退出外会阻塞到下一次被调度
func (p *Process) suspend(kind yieldKind) {
	tok := p.token
	p.owner.Store(-1)
	tok.yield <- kind
	if kind == yieldExit {
		return
	}
	p.acquire(<-p.resume)
}

// wake Waiting -> Ready 并放回所属 worker 的队列
func (p *Process) wake() {
	if p.state.CompareAndSwap(int32(StateWaiting), int32(StateReady)) {
		p.sched.enqueue(p)
	}
}

// push 投递消息并唤醒
func (p *Process) push(msg *Message) bool {
	if !p.mailbox.Push(msg) {
		return false
	}
	p.wake()
	return true
}

// kill 记录待处理的退出，进程在下一个安全点结束
func (p *Process) kill(reason ExitReason) {
	r := reason
	p.pending.CompareAndSwap(nil, &r)
	p.wake()
}

// checkSignals 安全点检查
func (p *Process) checkSignals() {
	if r := p.pending.Load(); r != nil {
		panic(exitPanic{reason: *r})
	}
}

// reduce 消耗 reduction，预算用完时在安全点让出
func (p *Process) reduce(n int) {
	p.reductions += n
	if p.reductions < p.sched.opts.ReductionBudget {
		return
	}
	p.preempt()
}

func (p *Process) preempt() {
	p.reductions = 0
	p.checkSignals()
	p.collect()
	p.suspend(yieldPreempt)
	p.checkSignals()
}

// collect 堆超过阈值时回收，失败视为进程崩溃
func (p *Process) collect() {
	if !p.heap.ShouldCollect() {
		return
	}
	if _, err := p.heap.Collect(); err != nil {
		panic(exitPanic{reason: Custom(xerror.Wrap(err, "gc").Error())})
	}
}

// receive 取出一条满足 match 的消息，timeout < 0 表示无限等待
func (p *Process) receive(match func(*Message) bool, timeout time.Duration) *Message {
	p.reduce(1)
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		p.checkSignals()
		msg, ok := p.mailbox.popOrPark(match, func() {
			if timeout == 0 {
				return
			}
			p.state.Store(int32(StateWaiting))
		})
		if ok {
			p.collect()
			p.accept(msg)
			return msg
		}
		if timeout == 0 {
			return timeoutMessage
		}
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				p.unpark()
				return timeoutMessage
			}
			if p.parkWithTimer(remain) {
				return timeoutMessage
			}
			continue
		}
		p.suspend(yieldWait)
	}
}

// unpark 撤销尚未生效的等待
func (p *Process) unpark() {
	if p.state.CompareAndSwap(int32(StateWaiting), int32(StateRunning)) {
		return
	}
	// 已经被唤醒并入队，必须让出一次以消费这次调度
	p.suspend(yieldWait)
}

// parkWithTimer 挂起直到消息到达或超时，返回是否超时
func (p *Process) parkWithTimer(d time.Duration) bool {
	seq := p.waitSeq.Add(1)
	p.timedOut.Store(false)
	timer := p.sched.afterFunc(d, func() {
		if p.waitSeq.Load() != seq {
			return
		}
		if p.state.CompareAndSwap(int32(StateWaiting), int32(StateReady)) {
			p.timedOut.Store(true)
			p.sched.enqueue(p)
		}
	})
	p.suspend(yieldWait)
	p.waitSeq.Add(1)
	timer.Stop()
	if p.timedOut.Load() {
		p.timedOut.Store(false)
		p.checkSignals()
		// 超时与消息同时到达时以消息为准
		return p.mailbox.IsEmpty()
	}
	return false
}

// accept 把消息复制到进程堆并作为当前消息固定
func (p *Process) accept(msg *Message) {
	if p.current != 0 {
		p.heap.Unpin(p.current)
		p.current = 0
	}
	if msg.task != nil || len(msg.Payload) == 0 {
		return
	}
	hd := p.heap.AllocCopy(msg.Payload)
	p.heap.Pin(hd)
	p.current = hd
	msg.handle = hd
	msg.Payload = p.heap.Bytes(hd)
}

// run 进程 goroutine 主体
func (p *Process) run() {
	p.acquire(<-p.resume)
	reason := p.invoke()
	p.finalize(reason)
	p.suspend(yieldExit)
}

// invoke 调用入口函数，panic 在这里转换为退出原因
func (p *Process) invoke() (reason ExitReason) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(exitPanic); ok {
			reason = e.reason
			return
		}
		msg := xerror.PanicMessage(r)
		reason = Custom(msg)
		glog.Error("进程崩溃", zap.Stringer("pid", p.pid), zap.String("panic", msg), zap.Stack("stack"))
	}()
	p.checkSignals()
	p.entry(p.ctx, p.args)
	return Normal
}

// finalize 在进程自己的 goroutine 中完成退出流程
func (p *Process) finalize(reason ExitReason) {
	p.mailbox.Close()
	p.state.Store(int32(StateExited))
	p.sched.remove(p)

	p.mu.Lock()
	p.exited = true
	p.reason = reason
	links := p.links
	monitors := p.monitors
	watchers := p.monitoredBy
	watches := p.watches
	p.links = nil
	p.monitors = nil
	p.monitoredBy = nil
	p.watches = nil
	p.mu.Unlock()

	for pid := range links {
		p.sched.deliverExit(p.pid, pid, reason, true)
	}
	for key := range watchers {
		p.sched.deliverDown(key.watcher, key.ref, p.pid, reason)
	}
	for ref, target := range monitors {
		p.sched.dropWatcher(target, ref, p.pid)
	}

	if p.current != 0 {
		p.heap.Unpin(p.current)
		p.current = 0
	}
	p.heap.Reset()
	p.sched.runExitHooks(p.pid, reason)

	for _, ch := range watches {
		ch <- reason
		close(ch)
	}
	close(p.done)
}

// addLink 退出后返回 false
func (p *Process) addLink(pid PID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.links[pid] = struct{}{}
	return true
}

// removeLink 返回链接是否存在，存在则删除
func (p *Process) removeLink(pid PID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	if _, ok := p.links[pid]; !ok {
		return false
	}
	delete(p.links, pid)
	return true
}

func (p *Process) addWatcher(ref MonitorRef, watcher PID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}
	p.monitoredBy[monitorKey{ref: ref, watcher: watcher}] = struct{}{}
	return true
}

func (p *Process) removeWatcher(ref MonitorRef, watcher PID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	delete(p.monitoredBy, monitorKey{ref: ref, watcher: watcher})
}

// takeMonitor 取走自己持有的监视，DOWN 只会被投递一次
func (p *Process) takeMonitor(ref MonitorRef) (PID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return 0, false
	}
	target, ok := p.monitors[ref]
	if ok {
		delete(p.monitors, ref)
	}
	return target, ok
}

// signal 处理一个退出信号，返回信号是否生效
// link 为 true 时必须原子地删除对应链接，链接已不存在说明信号重复或已解除，直接忽略
func (p *Process) signal(from PID, reason ExitReason, link bool) bool {
	if link {
		if !p.removeLink(from) {
			return false
		}
	} else if p.State() == StateExited {
		return false
	}
	if !link && reason.Kind == ExitKilled {
		p.kill(Killed)
		return true
	}
	if p.trapExit.Load() {
		p.push(&Message{Tag: ExitSignalTag, From: from, Payload: ExitSignal{From: from, Reason: reason}.Encode()})
		return true
	}
	if reason.Kind != ExitNormal {
		p.kill(reason)
	}
	return true
}

// watch 注册一个退出通知通道
func (p *Process) watch() <-chan ExitReason {
	ch := make(chan ExitReason, 1)
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		ch <- p.reason
		close(ch)
		return ch
	}
	p.watches = append(p.watches, ch)
	p.mu.Unlock()
	return ch
}

// Info 进程快照
type Info struct {
	PID         PID
	State       State
	Priority    Priority
	TrapExit    bool
	Worker      int32
	MailboxLen  int
	Links       []PID
	Monitors    int
	MonitoredBy int
	Uptime      time.Duration
}

func (p *Process) info() Info {
	p.mu.Lock()
	links := make([]PID, 0, len(p.links))
	for pid := range p.links {
		links = append(links, pid)
	}
	monitors, monitoredBy := len(p.monitors), len(p.monitoredBy)
	p.mu.Unlock()
	return Info{
		PID:         p.pid,
		State:       p.State(),
		Priority:    p.priority,
		TrapExit:    p.trapExit.Load(),
		Worker:      p.worker,
		MailboxLen:  p.mailbox.Len(),
		Links:       links,
		Monitors:    monitors,
		MonitoredBy: monitoredBy,
		Uptime:      time.Since(p.startedAt),
	}
}
