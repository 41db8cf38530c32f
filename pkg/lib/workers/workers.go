// Package workers
// @Description: ants 协程池和带层级等待的长期协程
package workers

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	goCount    atomic.Int64
	panicCount atomic.Uint64
	pool       *ants.Pool
	root       = WithWaitContext(nil)
	isShutdown atomic.Bool
)

func init() {
	pool, _ = ants.NewPool(5000, ants.WithNonblocking(false), ants.WithPanicHandler(func(r interface{}) {
		panicCount.Add(1)
		glog.Error("协程池任务 panic", zap.Any("panic", r))
	}))
}

// Submit 把短任务交给协程池执行，池满时退化为新协程
func Submit(fn func(), recoverFun func(err interface{})) {
	task := func() {
		goCount.Add(1)
		defer goCount.Add(-1)
		Try(fn, recoverFun)
	}
	if err := pool.Submit(task); err != nil {
		glog.Warn("协程池提交失败，改用独立协程", zap.Error(err))
		go task()
	}
}

// Try 执行 fn 并捕获 panic
func Try(fn func(), reFun func(err interface{})) {
	defer func() {
		if err := recover(); err != nil {
			panicCount.Add(1)
			if reFun != nil {
				reFun(err)
			}
		}
	}()
	fn()
}

// Go 启动一个长期运行的协程，挂在根 WaitContext 上，Shutdown 时取消并等待
func Go(f func(ctx *WaitContext)) {
	GoWith(root, f)
}

// GoWith 启动挂在指定 WaitContext 上的协程
func GoWith(wc *WaitContext, f func(ctx *WaitContext)) {
	wc.Add(1)
	goCount.Add(1)
	go func() {
		defer func() {
			goCount.Add(-1)
			wc.Done()
			if r := recover(); r != nil {
				panicCount.Add(1)
				glog.Error("协程 panic", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		f(wc)
	}()
}

// Running 当前运行中的协程数量
func Running() int64 {
	return goCount.Load()
}

// Panics 累计捕获的 panic 次数
func Panics() uint64 {
	return panicCount.Load()
}

// Shutdown 取消根上下文并等待所有长期协程退出
func Shutdown(timeout time.Duration) error {
	if !isShutdown.CompareAndSwap(false, true) {
		return nil
	}
	root.Cancel()
	if err := root.WaitWithTimeout(timeout); err != nil {
		return err
	}
	pool.Release()
	return nil
}

func errWaitTimeout(timeout time.Duration) error {
	return fmt.Errorf("等待协程退出超时（%v），部分协程可能未完成清理", timeout)
}
