package workers

import (
	"context"
	"sync"
	"time"
)

// defaultCloseTimeout Close 的 ctx 没有截止时间时使用
const defaultCloseTimeout = time.Second

// WaitContext 一组长期协程共用的取消信号和计数，子级挂在父级的计数上
type WaitContext struct {
	*sync.WaitGroup
	parent *WaitContext
	ctx    context.Context
	cancel context.CancelFunc
}

// WithWaitContext parent 为 nil 时创建根级
func WithWaitContext(parent *WaitContext) *WaitContext {
	base := context.Background()
	if parent != nil {
		base = parent.ctx
		parent.Add(1)
	}
	wc := &WaitContext{WaitGroup: new(sync.WaitGroup), parent: parent}
	wc.ctx, wc.cancel = context.WithCancel(base)
	return wc
}

func (wc *WaitContext) Context() context.Context {
	return wc.ctx
}

// IsFinish 取消后关闭
func (wc *WaitContext) IsFinish() <-chan struct{} {
	return wc.ctx.Done()
}

func (wc *WaitContext) Cancel() {
	wc.cancel()
}

// Wait 等待本级协程全部退出，再归还父级计数
func (wc *WaitContext) Wait() {
	wc.WaitGroup.Wait()
	wc.release()
}

// WaitWithTimeout 超时也会归还父级计数，未退出的协程不再被等待
func (wc *WaitContext) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wc.WaitGroup.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errWaitTimeout(timeout)
	}
	wc.release()
	return err
}

// Close 取消并等待到 ctx 的截止时间
func (wc *WaitContext) Close(ctx context.Context) error {
	wc.cancel()
	timeout := defaultCloseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), time.Millisecond)
	}
	return wc.WaitWithTimeout(timeout)
}

func (wc *WaitContext) release() {
	if wc.parent != nil {
		wc.parent.Done()
	}
}
