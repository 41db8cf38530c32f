// Package stopper 只允许关闭一次的标记，嵌入到需要幂等关闭的对象里
package stopper

import "sync/atomic"

type Stopper struct {
	stopped atomic.Bool
}

func (s *Stopper) IsStop() bool {
	return s.stopped.Load()
}

// Stop 只有第一次调用返回 true，调用方据此执行真正的关闭流程
func (s *Stopper) Stop() bool {
	return s.stopped.CompareAndSwap(false, true)
}
