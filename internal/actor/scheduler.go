// Package actor 轻量进程运行时：M:N 调度、邮箱、进程堆、链接和监视
package actor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/timex"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"go.uber.org/zap"
)

// ExitHook 进程退出后调用，运行在退出进程的 goroutine 中，不能阻塞
type ExitHook func(pid PID, reason ExitReason)

type remoteBox struct {
	Remote
}

// Scheduler 调度器句柄，测试中可以创建多个互不影响的实例
type Scheduler struct {
	opts     Options
	workers  []*worker
	wc       *workers.WaitContext
	procs    *maputil.ConcurrentMap[uint64, *Process]
	count    atomic.Int64
	nextID   atomic.Uint64
	nextRef  atomic.Uint64
	rr       atomic.Uint32
	names    *registry
	funcs    *functionTable
	remote   atomic.Pointer[remoteBox]
	hooksMu  sync.RWMutex
	hooks    []ExitHook
	started  atomic.Bool
	stopping atomic.Bool
}

func NewScheduler(options ...Option) *Scheduler {
	opts := loadOptions(options...)
	s := &Scheduler{
		opts:  opts,
		procs: maputil.NewConcurrentMap[uint64, *Process](32),
		names: newRegistry(),
		funcs: newFunctionTable(),
	}
	s.workers = make([]*worker, opts.Workers)
	for i := range s.workers {
		s.workers[i] = newWorker(int32(i))
	}
	return s
}

// Start 启动 worker
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wc = workers.WithWaitContext(nil)
	for _, w := range s.workers {
		workers.GoWith(s.wc, w.loop)
	}
	glog.Info("调度器启动", zap.Int("workers", len(s.workers)), zap.Uint8("creation", s.opts.Creation))
}

// Shutdown 杀死所有进程，等待它们退出后停止 worker
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	procs := s.snapshot()
	for _, p := range procs {
		p.kill(Killed)
	}
	var err error
	for _, p := range procs {
		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	if s.started.Load() {
		if werr := s.wc.Close(ctx); werr != nil && err == nil {
			err = werr
		}
	}
	glog.Info("调度器停止", zap.Int("processes", len(procs)), zap.Error(err))
	return err
}

func (s *Scheduler) Creation() uint8 {
	return s.opts.Creation
}

func (s *Scheduler) Options() Options {
	return s.opts
}

// SetRemote 挂载分布式层，非本地 PID 的操作都转发给它
func (s *Scheduler) SetRemote(r Remote) {
	if r == nil {
		s.remote.Store(nil)
		return
	}
	s.remote.Store(&remoteBox{Remote: r})
}

func (s *Scheduler) getRemote() Remote {
	if box := s.remote.Load(); box != nil {
		return box.Remote
	}
	return nil
}

// OnExit 注册退出钩子
func (s *Scheduler) OnExit(hook ExitHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Scheduler) runExitHooks(pid PID, reason ExitReason) {
	s.names.removePID(pid)
	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		workers.Try(func() { hook(pid, reason) }, func(err interface{}) {
			glog.Error("退出钩子 panic", zap.Stringer("pid", pid), zap.Any("panic", err))
		})
	}
}

// Spawn 创建进程并立即返回，进程在某个 worker 上异步开始运行
func (s *Scheduler) Spawn(entry EntryFunc, args []byte, options ...SpawnOption) (PID, error) {
	opts := &SpawnOptions{}
	for _, option := range options {
		option(opts)
	}
	return s.spawn(entry, args, opts)
}

func (s *Scheduler) spawn(entry EntryFunc, args []byte, opts *SpawnOptions) (PID, error) {
	if entry == nil {
		return 0, errs.ErrEntryIsNil
	}
	if s.stopping.Load() {
		return 0, errs.ErrSystemShuttingDown
	}
	id := s.nextID.Add(1)
	if id > MaxLocalID {
		return 0, errs.ErrPIDExhausted
	}
	pid := NewPID(0, s.opts.Creation, id)
	p := newProcess(s, pid, entry, args, opts)
	p.worker = int32(s.rr.Add(1) % uint32(len(s.workers)))

	if link := opts.LinkTo; link != 0 {
		p.links[link] = struct{}{}
		if link.IsLocal() {
			if parent := s.lookup(link); parent == nil || !parent.addLink(pid) {
				delete(p.links, link)
				p.kill(Noproc)
			}
		}
	}
	s.procs.Set(id, p)
	s.count.Add(1)
	if opts.Name != "" {
		if err := s.names.register(opts.Name, pid); err != nil {
			s.procs.Delete(id)
			s.count.Add(-1)
			if link := opts.LinkTo; link.IsLocal() && link != 0 {
				if parent := s.lookup(link); parent != nil {
					parent.removeLink(pid)
				}
			}
			return 0, err
		}
	}
	if opts.BeforeStart != nil {
		opts.BeforeStart(pid)
	}
	go p.run()
	s.enqueue(p)
	return pid, nil
}

func (s *Scheduler) enqueue(p *Process) {
	s.workers[p.worker].push(p)
}

func (s *Scheduler) remove(p *Process) {
	if _, ok := s.procs.GetAndDelete(p.pid.LocalID()); ok {
		s.count.Add(-1)
	}
}

func (s *Scheduler) lookup(pid PID) *Process {
	if !pid.IsLocal() || pid.Creation() != s.opts.Creation {
		return nil
	}
	p, ok := s.procs.Get(pid.LocalID())
	if !ok {
		return nil
	}
	return p
}

func (s *Scheduler) snapshot() []*Process {
	procs := make([]*Process, 0, s.count.Load())
	s.procs.Range(func(_ uint64, p *Process) bool {
		procs = append(procs, p)
		return true
	})
	return procs
}

func (s *Scheduler) newRef() MonitorRef {
	return MonitorRef(s.nextRef.Add(1))
}

func (s *Scheduler) afterFunc(d time.Duration, f func()) *timex.Timer {
	return timex.AfterFunc(d, f)
}

// Send 发送用户消息，保留 tag 会被拒绝
func (s *Scheduler) Send(from, to PID, tag uint64, payload []byte) error {
	if IsReservedTag(tag) {
		return errs.ErrReservedTag
	}
	return s.send(from, to, tag, payload)
}

func (s *Scheduler) send(from, to PID, tag uint64, payload []byte) error {
	if !to.IsLocal() {
		r := s.getRemote()
		if r == nil {
			return errs.ErrRemoteIsNil
		}
		return r.Send(from, to, tag, payload)
	}
	return s.Post(from, to, tag, payload)
}

// Post 直接投递到本地进程邮箱，允许保留 tag
// bridge 读协程和分布式层用它把外部事件送进进程
func (s *Scheduler) Post(from, to PID, tag uint64, payload []byte) error {
	p := s.lookup(to)
	if p == nil {
		return errs.ErrProcessNotFound
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	if !p.push(&Message{Tag: tag, From: from, Payload: data}) {
		return errs.ErrProcessNotFound
	}
	return nil
}

// PostTask 在目标进程内执行 task，目标下一次调用 Receive 时运行
func (s *Scheduler) PostTask(to PID, task func(ctx *Context)) error {
	if task == nil {
		return errs.ErrEntryIsNil
	}
	p := s.lookup(to)
	if p == nil {
		return errs.ErrProcessNotFound
	}
	if !p.push(&Message{Tag: SystemTaskTag, task: task}) {
		return errs.ErrProcessNotFound
	}
	return nil
}

// SendNamed 发给本地注册名
func (s *Scheduler) SendNamed(from PID, name string, tag uint64, payload []byte) error {
	pid, ok := s.Whereis(name)
	if !ok {
		return errs.ErrNameNotRegistered
	}
	return s.Send(from, pid, tag, payload)
}

// SendAfter d 之后发送消息，返回的 Timer 可以取消
func (s *Scheduler) SendAfter(from, to PID, tag uint64, payload []byte, d time.Duration) (*timex.Timer, error) {
	if IsReservedTag(tag) {
		return nil, errs.ErrReservedTag
	}
	data := append([]byte(nil), payload...)
	return s.afterFunc(d, func() {
		if to.IsLocal() {
			_ = s.Post(from, to, tag, data)
			return
		}
		workers.Submit(func() {
			if err := s.send(from, to, tag, data); err != nil {
				glog.Debug("延迟消息发送失败", zap.Stringer("to", to), zap.Error(err))
			}
		}, nil)
	}), nil
}

// Exit 从进程外部发送退出信号，Killed 不可捕获
func (s *Scheduler) Exit(pid PID, reason ExitReason) {
	s.deliverExit(0, pid, reason, false)
}

// Register 注册本地名字
func (s *Scheduler) Register(name string, pid PID) error {
	if s.lookup(pid) == nil {
		return errs.ErrProcessNotFound
	}
	if err := s.names.register(name, pid); err != nil {
		return err
	}
	// 注册和退出并发时由这里兜底
	if s.lookup(pid) == nil {
		s.names.removePID(pid)
		return errs.ErrProcessNotFound
	}
	return nil
}

func (s *Scheduler) Whereis(name string) (PID, bool) {
	return s.names.whereis(name)
}

func (s *Scheduler) Unregister(name string) bool {
	return s.names.unregister(name)
}

// Registered 所有本地注册名
func (s *Scheduler) Registered() []string {
	return s.names.list()
}

// Alive 本地进程是否存活
func (s *Scheduler) Alive(pid PID) bool {
	p := s.lookup(pid)
	return p != nil && p.State() != StateExited
}

// Count 存活进程数量
func (s *Scheduler) Count() int {
	return int(s.count.Load())
}

// Processes 所有存活进程
func (s *Scheduler) Processes() []PID {
	procs := s.snapshot()
	pids := make([]PID, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, p.pid)
	}
	return pids
}

// Info 进程快照
func (s *Scheduler) Info(pid PID) (Info, bool) {
	p := s.lookup(pid)
	if p == nil {
		return Info{}, false
	}
	return p.info(), true
}

// Watch 进程退出时收到退出原因，进程不存在时立即收到 Noproc
func (s *Scheduler) Watch(pid PID) <-chan ExitReason {
	if p := s.lookup(pid); p != nil {
		return p.watch()
	}
	ch := make(chan ExitReason, 1)
	ch <- Noproc
	close(ch)
	return ch
}

// Stats 调度统计
type Stats struct {
	Processes int
	Queued    []int
	Executed  []uint64
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Processes: s.Count(),
		Queued:    make([]int, len(s.workers)),
		Executed:  make([]uint64, len(s.workers)),
	}
	for i, w := range s.workers {
		st.Queued[i] = w.queued()
		st.Executed[i] = w.executed.Load()
	}
	return st
}
