package actor

import (
	"time"

	"github.com/dzm2020/mesh/internal/errs"
)

func newChanWaiter[T any](timeout time.Duration) *chanWaiter[T] {
	f := new(chanWaiter[T])
	f.ch = make(chan T, 1)
	if timeout > 0 {
		f.after = time.After(timeout)
	}
	return f
}

type chanWaiter[T any] struct {
	ch    chan T
	after <-chan time.Time
}

func (w *chanWaiter[T]) Wait(done <-chan struct{}) (T, error) {
	var t T
	select {
	case e := <-w.ch:
		return e, nil
	case <-done:
		// 进程已退出，但结果可能在退出前写入
		select {
		case e := <-w.ch:
			return e, nil
		default:
		}
		return t, errs.ErrProcessNotFound
	case <-w.after:
		return t, errs.ErrWaiterTimeout
	}
}

func (w *chanWaiter[T]) Done(reply T) {
	// 非阻塞发送，避免多次调用 Done 时阻塞
	select {
	case w.ch <- reply:
	default:
	}
}

// Call 在目标进程内执行 fn 并同步等待结果
// 只能在进程之外调用，进程内部应当使用消息往返
func Call[T any](s *Scheduler, to PID, timeout time.Duration, fn func(ctx *Context) T) (T, error) {
	var zero T
	p := s.lookup(to)
	if p == nil {
		return zero, errs.ErrProcessNotFound
	}
	w := newChanWaiter[T](timeout)
	if !p.push(&Message{Tag: SystemTaskTag, task: func(ctx *Context) { w.Done(fn(ctx)) }}) {
		return zero, errs.ErrProcessNotFound
	}
	return w.Wait(p.done)
}
