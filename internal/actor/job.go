package actor

import (
	"errors"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
)

// JobFunc 在独立进程中执行的任务
type JobFunc func(ctx *Context) ([]byte, error)

// Job Async 返回的句柄，只能由创建它的进程 Await
type Job struct {
	owner *Context
	pid   PID
	ref   MonitorRef
}

func (j *Job) PID() PID {
	return j.pid
}

// Async 启动一个任务进程，结果以 JobResultTag 消息发回调用方
func (c *Context) Async(fn JobFunc) (*Job, error) {
	caller := c.p.pid
	pid, err := c.Spawn(func(ctx *Context, _ []byte) {
		result, err := fn(ctx)
		_ = ctx.s.Post(ctx.p.pid, caller, JobResultTag, encodeJobResult(result, err))
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Job{owner: c, pid: pid, ref: c.Monitor(pid)}, nil
}

// Await 等待任务结果，任务崩溃时返回其退出原因
func (j *Job) Await(timeout time.Duration) ([]byte, error) {
	c := j.owner
	msg := c.ReceiveMatch(func(m *Message) bool {
		if m.Tag == JobResultTag {
			return m.From == j.pid
		}
		return isDownFor(j.ref)(m)
	}, timeout)
	if msg.IsTimeout() {
		return nil, errs.ErrWaiterTimeout
	}
	if msg.Tag == DownSignalTag {
		down, _ := msg.DownSignal()
		return nil, errors.New("job exited: " + down.Reason.String())
	}
	c.Demonitor(j.ref)
	return decodeJobResult(msg.Payload)
}

func encodeJobResult(result []byte, err error) []byte {
	if err != nil {
		return append([]byte{0}, err.Error()...)
	}
	return append([]byte{1}, result...)
}

func decodeJobResult(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("job: empty result")
	}
	if b[0] == 0 {
		return nil, errors.New(string(b[1:]))
	}
	return b[1:], nil
}
