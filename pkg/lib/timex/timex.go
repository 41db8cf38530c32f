// Package timex
// @Description: 全局时间轮，用于接收超时、延迟消息、心跳等大量短定时器
package timex

import (
	"time"

	"github.com/RussellLuo/timingwheel"
)

var tw = timingwheel.NewTimingWheel(time.Millisecond, 3600)

func init() {
	tw.Start()
}

// Timer 可取消的定时器
type Timer struct {
	t *timingwheel.Timer
}

// Stop 取消定时器，返回 false 表示已经触发或已经取消
func (t *Timer) Stop() bool {
	if t == nil || t.t == nil {
		return false
	}
	return t.t.Stop()
}

// AfterFunc d 之后在时间轮协程中执行 f，f 不能阻塞
func AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		d = time.Millisecond
	}
	return &Timer{t: tw.AfterFunc(d, f)}
}
