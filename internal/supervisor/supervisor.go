package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/duke-git/lancet/v2/slice"
	"go.uber.org/zap"
)

// remoteSpawnTimeout 远程启动子进程等待回复的时间
const remoteSpawnTimeout = 5 * time.Second

type child struct {
	spec     ChildSpec
	pid      actor.PID
	running  bool
	started  bool
	restarts int
}

// supervisor 运行在自己进程内的状态，只被该进程访问
type supervisor struct {
	ctx      *actor.Context
	cfg      Config
	parent   actor.PID
	children []*child
	history  []time.Time
	dynamic  int
	now      func() time.Time
}

func newSupervisor(ctx *actor.Context, cfg Config, parent actor.PID) *supervisor {
	sup := &supervisor{
		ctx:    ctx,
		cfg:    cfg,
		parent: parent,
		now:    time.Now,
	}
	if sup.cfg.ShutdownTimeout <= 0 {
		sup.cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Strategy != SimpleOneForOne {
		for _, spec := range cfg.Children {
			sup.children = append(sup.children, &child{spec: spec})
		}
	}
	return sup
}

func (sup *supervisor) logger() *zap.Logger {
	return glog.Named("supervisor").With(zap.Stringer("sup", sup.ctx.Self()))
}

// template simple_one_for_one 的子进程模板
func (sup *supervisor) template() (ChildSpec, error) {
	if len(sup.cfg.Children) == 0 {
		return ChildSpec{}, errs.ErrStartFuncMissing
	}
	return sup.cfg.Children[0], nil
}

// run 进程主循环
func (sup *supervisor) run() {
	for {
		msg := sup.ctx.Receive(actor.Infinity)
		sig, ok := msg.ExitSignal()
		if !ok {
			continue
		}
		if sup.parent != 0 && sig.From == sup.parent {
			sup.terminateAll()
			sup.ctx.Stop(sig.Reason)
		}
		err := sup.handleChildExit(sig.From, sig.Reason)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrRestartLimitExceeded):
			sup.logger().Warn("重启次数超过限制，supervisor 退出",
				zap.Int("maxRestarts", sup.cfg.MaxRestarts), zap.Int("maxSeconds", sup.cfg.MaxSeconds))
			sup.ctx.Stop(actor.Shutdown)
		default:
			sup.logger().Error("重启子进程失败，supervisor 退出", zap.Error(err))
			sup.ctx.Stop(actor.Custom(err.Error()))
		}
	}
}

func (sup *supervisor) find(pid actor.PID) int {
	if pid == 0 {
		return -1
	}
	return slice.IndexOf(slice.Map(sup.children, func(_ int, c *child) actor.PID {
		if !c.running {
			return 0
		}
		return c.pid
	}), pid)
}

func (sup *supervisor) findID(id string) int {
	for i, c := range sup.children {
		if c.spec.ID == id {
			return i
		}
	}
	return -1
}

// startChildren 按顺序启动 [from, len)，失败时逆序终止本批已启动的子进程
func (sup *supervisor) startChildren(from int) error {
	for i := from; i < len(sup.children); i++ {
		if err := sup.startChild(sup.children[i]); err != nil {
			sup.terminateRange(from, i)
			return fmt.Errorf("child %q failed to start: %w", sup.children[i].spec.ID, err)
		}
	}
	return nil
}

// startChild 启动并链接单个子进程
func (sup *supervisor) startChild(c *child) error {
	var (
		pid actor.PID
		err error
	)
	if c.spec.IsRemote() {
		if c.spec.StartFuncName == "" {
			return errs.ErrStartFuncMissing
		}
		pid, err = sup.ctx.SpawnRemote(c.spec.TargetNode, c.spec.StartFuncName, c.spec.Args, true, remoteSpawnTimeout)
	} else {
		start := c.spec.Start
		if start == nil && c.spec.StartFuncName != "" {
			start, _ = sup.ctx.Scheduler().LookupFunc(c.spec.StartFuncName)
		}
		if start == nil {
			return errs.ErrStartFuncMissing
		}
		pid, err = sup.ctx.SpawnLink(start, c.spec.Args)
	}
	if err != nil {
		return err
	}
	if c.started {
		c.restarts++
	}
	c.pid = pid
	c.running = true
	c.started = true
	return nil
}

func (sup *supervisor) terminateAll() {
	sup.terminateRange(0, len(sup.children))
}

// terminateRange 逆序终止 [from, to)
func (sup *supervisor) terminateRange(from, to int) {
	for i := to - 1; i >= from; i-- {
		if sup.children[i].running {
			sup.terminateChild(sup.children[i])
		}
	}
}

// terminateChild 按规格终止子进程，本地和远程子进程都通过监视等待退出确认
func (sup *supervisor) terminateChild(c *child) {
	pid := c.pid
	ctx := sup.ctx
	ref := ctx.Monitor(pid)
	ctx.Unlink(pid)

	timeout := c.spec.Shutdown.Timeout
	if timeout <= 0 {
		timeout = sup.cfg.ShutdownTimeout
	}
	isDown := func(m *actor.Message) bool {
		down, ok := m.DownSignal()
		return ok && down.Ref == ref
	}
	if c.spec.Shutdown.Kind == BrutalKill {
		ctx.Exit(pid, actor.Killed)
	} else {
		ctx.Exit(pid, actor.Shutdown)
	}
	if ctx.ReceiveMatch(isDown, timeout).IsTimeout() {
		sup.logger().Warn("子进程关闭超时，强制终止", zap.String("child", c.spec.ID), zap.Stringer("pid", pid))
		ctx.Exit(pid, actor.Killed)
		if ctx.ReceiveMatch(isDown, timeout).IsTimeout() {
			ctx.Demonitor(ref)
		}
	}
	// 解除链接之前可能已经到达的退出消息
	for {
		msg := ctx.ReceiveMatch(func(m *actor.Message) bool {
			return m.Tag == actor.ExitSignalTag && m.From == pid
		}, 0)
		if msg.IsTimeout() {
			break
		}
	}
	c.running = false
	c.pid = 0
}

// allowRestart 滑动窗口内的重启次数检查，允许时记录本次重启
func (sup *supervisor) allowRestart() bool {
	now := sup.now()
	window := time.Duration(sup.cfg.MaxSeconds) * time.Second
	drop := 0
	for drop < len(sup.history) && now.Sub(sup.history[drop]) > window {
		drop++
	}
	sup.history = sup.history[drop:]
	if len(sup.history) >= sup.cfg.MaxRestarts {
		return false
	}
	sup.history = append(sup.history, now)
	return true
}

func shouldRestart(restart RestartType, reason actor.ExitReason) bool {
	switch restart {
	case Permanent:
		return true
	case Transient:
		return reason.Kind != actor.ExitNormal && reason.Kind != actor.ExitShutdown
	}
	return false
}

// handleChildExit 根据重启类型和策略处理子进程退出，返回错误表示需要升级
func (sup *supervisor) handleChildExit(pid actor.PID, reason actor.ExitReason) error {
	idx := sup.find(pid)
	if idx < 0 {
		return nil
	}
	c := sup.children[idx]
	c.running = false
	c.pid = 0

	if c.spec.Restart == Temporary || (sup.cfg.Strategy == SimpleOneForOne && !shouldRestart(c.spec.Restart, reason)) {
		sup.children = slice.DeleteAt(sup.children, idx)
		return nil
	}
	if !shouldRestart(c.spec.Restart, reason) {
		return nil
	}
	if !sup.allowRestart() {
		sup.terminateAll()
		return fmt.Errorf("%w: %d restarts in %d seconds", errs.ErrRestartLimitExceeded, sup.cfg.MaxRestarts, sup.cfg.MaxSeconds)
	}
	sup.logger().Warn("重启子进程", zap.String("child", c.spec.ID), zap.Stringer("reason", reason),
		zap.String("strategy", sup.cfg.Strategy.String()))

	var err error
	switch sup.cfg.Strategy {
	case OneForOne, SimpleOneForOne:
		err = sup.startChild(c)
	case OneForAll:
		sup.terminateAll()
		err = sup.startChildren(0)
	case RestForOne:
		sup.terminateRange(idx, len(sup.children))
		err = sup.startChildren(idx)
	}
	if err != nil {
		sup.terminateAll()
		return err
	}
	return nil
}

// StartOption supervisor 启动选项
type StartOption func(*startOptions)

type startOptions struct {
	name    string
	timeout time.Duration
}

// WithName 以 name 注册 supervisor
func WithName(name string) StartOption {
	return func(o *startOptions) {
		o.name = name
	}
}

// WithStartTimeout 等待全部子进程启动的时间
func WithStartTimeout(d time.Duration) StartOption {
	return func(o *startOptions) {
		o.timeout = d
	}
}

func loadStartOptions(options []StartOption) startOptions {
	opts := startOptions{timeout: 10 * time.Second}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// body supervisor 进程入口，启动结果通过 ack 报告
func body(cfg Config, parent actor.PID, ack func(ctx *actor.Context, err error)) actor.EntryFunc {
	return func(ctx *actor.Context, _ []byte) {
		ctx.TrapExit(true)
		sup := newSupervisor(ctx, cfg, parent)
		ctx.SetState(sup)
		if err := sup.startChildren(0); err != nil {
			sup.logger().Error("supervisor 启动失败", zap.Error(err))
			if parent != 0 {
				ctx.Unlink(parent)
			}
			ack(ctx, err)
			ctx.Stop(actor.Custom(err.Error()))
		}
		ack(ctx, nil)
		sup.run()
	}
}

// Start 从进程外启动 supervisor，全部子进程启动后返回
func Start(sched *actor.Scheduler, cfg Config, options ...StartOption) (actor.PID, error) {
	opts := loadStartOptions(options)
	result := make(chan error, 1)
	spawnOpts := []actor.SpawnOption{actor.WithTrapExit()}
	if opts.name != "" {
		spawnOpts = append(spawnOpts, actor.WithName(opts.name))
	}
	pid, err := sched.Spawn(body(cfg, 0, func(_ *actor.Context, err error) {
		result <- err
	}), nil, spawnOpts...)
	if err != nil {
		return 0, err
	}
	select {
	case err = <-result:
	case <-time.After(opts.timeout):
		sched.Exit(pid, actor.Killed)
		err = errs.ErrWaiterTimeout
	}
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// StartLink 在进程内启动并链接 supervisor，只阻塞调用进程
func StartLink(ctx *actor.Context, cfg Config, options ...StartOption) (actor.PID, error) {
	opts := loadStartOptions(options)
	parent := ctx.Self()
	spawnOpts := []actor.SpawnOption{actor.WithTrapExit()}
	if opts.name != "" {
		spawnOpts = append(spawnOpts, actor.WithName(opts.name))
	}
	pid, err := ctx.SpawnLink(body(cfg, parent, func(sc *actor.Context, err error) {
		var payload []byte
		if err != nil {
			payload = []byte(err.Error())
		}
		_ = sc.Scheduler().Post(sc.Self(), parent, actor.SpawnReplyTag, append([]byte{ackByte(err)}, payload...))
	}), nil, spawnOpts...)
	if err != nil {
		return 0, err
	}
	msg := ctx.ReceiveMatch(func(m *actor.Message) bool {
		return m.Tag == actor.SpawnReplyTag && m.From == pid
	}, opts.timeout)
	if msg.IsTimeout() {
		ctx.Unlink(pid)
		ctx.Exit(pid, actor.Killed)
		return 0, errs.ErrWaiterTimeout
	}
	if len(msg.Payload) == 0 || msg.Payload[0] != ackOK {
		return 0, fmt.Errorf("supervisor start: %s", msg.Payload[min(1, len(msg.Payload)):])
	}
	return pid, nil
}

const (
	ackOK   byte = 1
	ackFail byte = 0
)

func ackByte(err error) byte {
	if err != nil {
		return ackFail
	}
	return ackOK
}
