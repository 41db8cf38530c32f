package actor

import (
	"strings"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/lib/timex"
)

// Infinity 无限等待
const Infinity time.Duration = -1

// EntryFunc 进程入口，args 是 spawn 时传入的参数
type EntryFunc func(ctx *Context, args []byte)

// Closure 函数和环境数据，运行时只转发不解释
type Closure struct {
	Fn  EntryFunc
	Env []byte
}

// Context 进程体可用的全部操作，只能在所属进程的 goroutine 中使用
type Context struct {
	p *Process
	s *Scheduler
}

func (c *Context) Self() PID {
	return c.p.pid
}

func (c *Context) Scheduler() *Scheduler {
	return c.s
}

// SetState 保存进程私有状态，系统任务通过 State 取回
func (c *Context) SetState(v interface{}) {
	c.p.userState = v
}

func (c *Context) State() interface{} {
	return c.p.userState
}

// Heap 进程私有堆
func (c *Context) Heap() *Heap {
	return c.p.heap
}

// Reduce 消耗 n 个 reduction，预算耗尽时让出 worker
func (c *Context) Reduce(n int) {
	c.p.reduce(n)
}

// Yield 主动让出 worker
func (c *Context) Yield() {
	c.p.preempt()
}

// TrapExit 设置 trap_exit，返回旧值
func (c *Context) TrapExit(on bool) bool {
	return c.p.trapExit.Swap(on)
}

// Receive 取出下一条消息，超时返回 IsTimeout 为 true 的哨兵
// 期间到达的系统任务会在这里执行
func (c *Context) Receive(timeout time.Duration) *Message {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		msg := c.p.receive(nil, timeout)
		if msg.task == nil {
			return msg
		}
		msg.task(c)
		if timeout > 0 {
			if timeout = time.Until(deadline); timeout <= 0 {
				timeout = 0
			}
		}
	}
}

// ReceiveMatch 选择性接收，不满足 match 的消息留在邮箱中
func (c *Context) ReceiveMatch(match func(*Message) bool, timeout time.Duration) *Message {
	return c.p.receive(func(m *Message) bool {
		return m.task == nil && match(m)
	}, timeout)
}

// ReceiveTag 只接收指定 tag
func (c *Context) ReceiveTag(tag uint64, timeout time.Duration) *Message {
	return c.ReceiveMatch(func(m *Message) bool { return m.Tag == tag }, timeout)
}

// Send 发送消息
func (c *Context) Send(to PID, tag uint64, payload []byte) error {
	c.p.reduce(1)
	return c.s.Send(c.p.pid, to, tag, payload)
}

// SendNamed 发给注册名，name@node 形式发到远程节点
func (c *Context) SendNamed(name string, tag uint64, payload []byte) error {
	c.p.reduce(1)
	if IsReservedTag(tag) {
		return errs.ErrReservedTag
	}
	if local, node, ok := strings.Cut(name, "@"); ok {
		r := c.s.getRemote()
		if r == nil {
			return errs.ErrRemoteIsNil
		}
		return r.SendNamed(c.p.pid, local, node, tag, payload)
	}
	return c.s.SendNamed(c.p.pid, name, tag, payload)
}

// SendAfter 延迟发送
func (c *Context) SendAfter(to PID, tag uint64, payload []byte, d time.Duration) (*timex.Timer, error) {
	return c.s.SendAfter(c.p.pid, to, tag, payload, d)
}

// Spawn 创建进程
func (c *Context) Spawn(entry EntryFunc, args []byte, options ...SpawnOption) (PID, error) {
	c.p.reduce(1)
	return c.s.Spawn(entry, args, options...)
}

// SpawnLink 创建进程并与当前进程链接
func (c *Context) SpawnLink(entry EntryFunc, args []byte, options ...SpawnOption) (PID, error) {
	return c.Spawn(entry, args, append(options, LinkTo(c.p.pid))...)
}

// SpawnClosure 以闭包为入口创建进程
func (c *Context) SpawnClosure(cl Closure, options ...SpawnOption) (PID, error) {
	return c.Spawn(cl.Fn, cl.Env, options...)
}

// Link 建立双向链接，目标不存在时当前进程收到 Noproc 退出信号
func (c *Context) Link(target PID) error {
	self := c.p.pid
	if target == self {
		return nil
	}
	c.p.reduce(1)
	c.p.addLink(target)
	if target.IsLocal() {
		if tp := c.s.lookup(target); tp == nil || !tp.addLink(self) {
			c.s.deliverExit(target, self, Noproc, true)
			c.p.checkSignals()
			return errs.ErrProcessNotFound
		}
		return nil
	}
	r := c.s.getRemote()
	if r == nil {
		c.s.deliverExit(target, self, Noconnection, true)
		c.p.checkSignals()
		return errs.ErrRemoteIsNil
	}
	if err := r.Link(self, target); err != nil {
		c.s.deliverExit(target, self, Noconnection, true)
		c.p.checkSignals()
		return err
	}
	return nil
}

// Unlink 解除链接，链接不存在时什么都不做
func (c *Context) Unlink(target PID) {
	if c.p.removeLink(target) {
		c.s.dropLink(target, c.p.pid)
	}
}

// Monitor 单向监视，目标退出时收到一次 DOWN
func (c *Context) Monitor(target PID) MonitorRef {
	c.p.reduce(1)
	self := c.p.pid
	ref := c.s.newRef()
	c.p.mu.Lock()
	c.p.monitors[ref] = target
	c.p.mu.Unlock()

	if target.IsLocal() {
		if tp := c.s.lookup(target); tp == nil || !tp.addWatcher(ref, self) {
			c.s.deliverDown(self, ref, target, Noproc)
		}
		return ref
	}
	if r := c.s.getRemote(); r == nil || r.Monitor(self, target, ref) != nil {
		c.s.deliverDown(self, ref, target, Noconnection)
	}
	return ref
}

// Demonitor 取消监视并丢弃已经到达的 DOWN
func (c *Context) Demonitor(ref MonitorRef) {
	if target, ok := c.p.takeMonitor(ref); ok {
		c.s.dropWatcher(target, ref, c.p.pid)
	}
	c.p.mailbox.RemoveIf(isDownFor(ref))
}

// Exit 向 target 发送退出信号
func (c *Context) Exit(target PID, reason ExitReason) {
	c.p.reduce(1)
	c.s.deliverExit(c.p.pid, target, reason, false)
	if target == c.p.pid {
		c.p.checkSignals()
	}
}

// Stop 以 reason 结束当前进程，不会返回
func (c *Context) Stop(reason ExitReason) {
	panic(exitPanic{reason: reason})
}

// Register 把当前进程注册为 name
func (c *Context) Register(name string) error {
	return c.s.Register(name, c.p.pid)
}

func (c *Context) Unregister(name string) bool {
	return c.s.Unregister(name)
}

func (c *Context) Whereis(name string) (PID, bool) {
	return c.s.Whereis(name)
}
