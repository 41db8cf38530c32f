package workers

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestSubmit_Recover 测试任务 panic 被捕获
func TestSubmit_Recover(t *testing.T) {
	got := make(chan interface{}, 1)
	Submit(func() {
		panic("boom")
	}, func(err interface{}) {
		got <- err
	})
	select {
	case err := <-got:
		if err != "boom" {
			t.Errorf("期望 boom，实际 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("recover 回调没有被调用")
	}
}

// TestGoWith_Cancel 测试取消后协程退出
func TestGoWith_Cancel(t *testing.T) {
	wc := WithWaitContext(nil)
	var exited atomic.Bool
	GoWith(wc, func(ctx *WaitContext) {
		<-ctx.IsFinish()
		exited.Store(true)
	})
	wc.Cancel()
	if err := wc.WaitWithTimeout(time.Second); err != nil {
		t.Fatalf("等待失败: %v", err)
	}
	if !exited.Load() {
		t.Error("协程应该已经退出")
	}
}
