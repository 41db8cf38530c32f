// Package bridge 把外部阻塞 I/O 接到进程邮箱
// 读协程不在调度器 worker 上运行，读到的数据以保留 tag 投递给所属进程；写入由一把互斥锁串行化
package bridge

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"go.uber.org/zap"
)

// Kind 数据单元类型
type Kind uint8

const (
	Text Kind = iota + 1
	Binary
)

// Tag 投递给所属进程时使用的保留 tag
func (k Kind) Tag() uint64 {
	if k == Text {
		return actor.BridgeDataTag
	}
	return actor.BridgeBinaryTag
}

// Writer 外部资源的写端
type Writer interface {
	Write(kind Kind, data []byte) error
	// Close 尽量通知对端后关闭，reason 为 nil 表示正常关闭
	Close(reason error) error
	RemoteAddr() string
}

// Source 可阻塞读取的外部资源
type Source interface {
	Writer
	// Read 阻塞读取一个数据单元
	Read() (Kind, []byte, error)
}

// pollable 支持读超时的资源，读协程按轮询间隔检查关闭标记
type pollable interface {
	SetReadDeadline(t time.Time) error
}

var nextID atomic.Uint64

// Bridge 一个外部连接与所属进程的绑定
type Bridge struct {
	stopper.Stopper
	id    uint64
	sched *actor.Scheduler
	owner atomic.Uint64
	w     Writer
	opts  *Options
	wc    *workers.WaitContext

	wmu  sync.Mutex
	once sync.Once

	hmu   sync.Mutex
	hooks []func(b *Bridge)
}

func newBridge(sched *actor.Scheduler, w Writer, opts *Options) *Bridge {
	return &Bridge{
		id:    nextID.Add(1),
		sched: sched,
		w:     w,
		opts:  opts,
		wc:    workers.WithWaitContext(nil),
	}
}

// Attach 把阻塞资源交给 owner，启动读协程
// owner 收到 BridgeConnectTag 之后开始收到数据，owner 退出时资源被关闭
func Attach(sched *actor.Scheduler, owner actor.PID, src Source, options ...Option) (*Bridge, error) {
	b := newBridge(sched, src, loadOptions(options...))
	if err := b.attach(owner); err != nil {
		return nil, err
	}
	workers.GoWith(b.wc, func(wc *workers.WaitContext) {
		b.readLoop(src)
	})
	return b, nil
}

// attach 投递连接通知并开始跟踪 owner 的退出
func (b *Bridge) attach(owner actor.PID) error {
	b.owner.Store(uint64(owner))
	if err := b.sched.Post(0, owner, actor.BridgeConnectTag, []byte(b.w.RemoteAddr())); err != nil {
		_ = b.w.Close(err)
		b.Stop()
		return err
	}
	exited := b.sched.Watch(owner)
	workers.GoWith(b.wc, func(wc *workers.WaitContext) {
		select {
		case reason := <-exited:
			b.ownerExit(reason)
		case <-wc.IsFinish():
		}
	})
	return nil
}

func (b *Bridge) ID() uint64 {
	return b.id
}

func (b *Bridge) Owner() actor.PID {
	return actor.PID(b.owner.Load())
}

func (b *Bridge) RemoteAddr() string {
	return b.w.RemoteAddr()
}

// Write 发送二进制数据，可以在任意协程调用
func (b *Bridge) Write(data []byte) error {
	return b.write(Binary, data)
}

// WriteText 发送文本数据
func (b *Bridge) WriteText(data []byte) error {
	return b.write(Text, data)
}

func (b *Bridge) write(kind Kind, data []byte) error {
	if b.IsStop() {
		return errs.ErrBridgeClosed
	}
	b.wmu.Lock()
	err := b.w.Write(kind, data)
	b.wmu.Unlock()
	if err != nil {
		b.closeWith(err)
		return err
	}
	return nil
}

// OnClose 注册关闭回调，已关闭时立即执行
func (b *Bridge) OnClose(hook func(b *Bridge)) {
	b.hmu.Lock()
	if !b.IsStop() {
		b.hooks = append(b.hooks, hook)
		b.hmu.Unlock()
		return
	}
	b.hmu.Unlock()
	hook(b)
}

// Close 正常关闭，所属进程会收到 BridgeDisconnectTag
func (b *Bridge) Close() error {
	if !b.closeWith(nil) {
		return errs.ErrBridgeClosed
	}
	return nil
}

// closeWith 设置关闭标记并关闭资源，读协程在下一次轮询或读失败时退出
func (b *Bridge) closeWith(reason error) bool {
	b.hmu.Lock()
	if !b.Stop() {
		b.hmu.Unlock()
		return false
	}
	hooks := b.hooks
	b.hooks = nil
	b.hmu.Unlock()

	b.wmu.Lock()
	_ = b.w.Close(reason)
	b.wmu.Unlock()
	b.disconnected(reason)
	b.wc.Cancel()
	for _, hook := range hooks {
		workers.Try(func() { hook(b) }, nil)
	}
	return true
}

// ownerExit 所属进程崩溃时先通知对端再关闭
func (b *Bridge) ownerExit(reason actor.ExitReason) {
	if reason.IsNormal() {
		b.closeWith(nil)
		return
	}
	glog.Warn("bridge 所属进程异常退出，关闭连接", zap.Uint64("bridge", b.id), zap.Stringer("owner", b.Owner()), zap.Stringer("reason", reason))
	b.closeWith(errOwnerCrashed(reason))
}

// deliver 在读协程或事件循环中调用
func (b *Bridge) deliver(kind Kind, data []byte) error {
	return b.sched.Post(0, b.Owner(), kind.Tag(), data)
}

// disconnected 只通知一次，负载为断开原因，正常关闭为空
func (b *Bridge) disconnected(reason error) {
	b.once.Do(func() {
		var payload []byte
		if reason != nil {
			payload = []byte(reason.Error())
		}
		_ = b.sched.Post(0, b.Owner(), actor.BridgeDisconnectTag, payload)
	})
}

func (b *Bridge) readLoop(src Source) {
	var err error
	defer func() {
		glog.Debug("bridge 读协程退出", zap.Uint64("bridge", b.id), zap.String("remote", src.RemoteAddr()), zap.Error(err))
		b.closeWith(err)
	}()
	poll, _ := src.(pollable)
	for !b.IsStop() {
		if poll != nil && b.opts.PollInterval > 0 {
			_ = poll.SetReadDeadline(time.Now().Add(b.opts.PollInterval))
		}
		kind, data, rerr := src.Read()
		if rerr != nil {
			if isTimeout(rerr) {
				continue
			}
			if !b.IsStop() {
				err = rerr
			}
			return
		}
		if err = b.deliver(kind, data); err != nil {
			return
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type ownerCrashed struct {
	reason actor.ExitReason
}

func (e ownerCrashed) Error() string {
	return "owner crashed: " + e.reason.String()
}

func errOwnerCrashed(reason actor.ExitReason) error {
	return ownerCrashed{reason: reason}
}
