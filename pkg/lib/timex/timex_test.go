package timex

import (
	"testing"
	"time"
)

func TestAfterFunc(t *testing.T) {
	fired := make(chan struct{}, 1)
	AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("定时器没有触发")
	}
}

func TestTimer_Stop(t *testing.T) {
	fired := make(chan struct{}, 1)
	timer := AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	if !timer.Stop() {
		t.Fatal("首次 Stop 应该返回 true")
	}
	select {
	case <-fired:
		t.Fatal("已取消的定时器不应该触发")
	case <-time.After(120 * time.Millisecond):
	}
}
