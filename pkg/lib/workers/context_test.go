package workers

import (
	"context"
	"testing"
	"time"
)

func TestWaitContext_ChildCancelledWithParent(t *testing.T) {
	parent := WithWaitContext(nil)
	child := WithWaitContext(parent)

	parent.Cancel()
	select {
	case <-child.IsFinish():
	case <-time.After(time.Second):
		t.Fatal("父级取消后子级应被取消")
	}
	if child.Context().Err() != context.Canceled {
		t.Fatalf("取消原因不符: %v", child.Context().Err())
	}
}

func TestWaitContext_ChildHoldsParent(t *testing.T) {
	parent := WithWaitContext(nil)
	child := WithWaitContext(parent)

	exited := make(chan struct{})
	GoWith(child, func(wc *WaitContext) {
		<-wc.IsFinish()
		close(exited)
	})

	done := make(chan struct{})
	go func() {
		parent.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("子级未结束时父级不应返回")
	case <-time.After(50 * time.Millisecond):
	}

	child.Cancel()
	<-exited
	child.Wait()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("子级结束后父级应返回")
	}
}

func TestWaitContext_Close(t *testing.T) {
	wc := WithWaitContext(nil)
	for i := 0; i < 4; i++ {
		GoWith(wc, func(wc *WaitContext) {
			<-wc.IsFinish()
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wc.Close(ctx); err != nil {
		t.Fatalf("协程应在取消后退出: %v", err)
	}
}

func TestWaitContext_CloseTimeout(t *testing.T) {
	parent := WithWaitContext(nil)
	wc := WithWaitContext(parent)
	release := make(chan struct{})
	defer close(release)
	GoWith(wc, func(*WaitContext) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := wc.Close(ctx); err == nil {
		t.Fatal("不响应取消的协程应导致超时")
	}
	if err := parent.WaitWithTimeout(100 * time.Millisecond); err != nil {
		t.Fatalf("超时后仍应归还父级计数: %v", err)
	}
}
