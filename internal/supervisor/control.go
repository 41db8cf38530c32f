package supervisor

import (
	"fmt"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/duke-git/lancet/v2/slice"
)

// CallTimeout 控制调用等待 supervisor 处理的时间，终止子进程可能需要等待关闭超时
var CallTimeout = 30 * time.Second

// 以下控制调用都在 supervisor 进程内执行，只能从进程外调用

type callResult[T any] struct {
	v   T
	err error
}

func call[T any](sched *actor.Scheduler, pid actor.PID, fn func(sup *supervisor) (T, error)) (T, error) {
	r, err := actor.Call(sched, pid, CallTimeout, func(ctx *actor.Context) callResult[T] {
		sup, ok := ctx.State().(*supervisor)
		if !ok {
			return callResult[T]{err: xerror.Wrap(errs.ErrProcessNotFound, "not a supervisor")}
		}
		v, err := fn(sup)
		return callResult[T]{v: v, err: err}
	})
	if err != nil {
		return r.v, err
	}
	return r.v, r.err
}

// WhichChildren 按启动顺序列出子进程
func WhichChildren(sched *actor.Scheduler, pid actor.PID) ([]ChildInfo, error) {
	return call(sched, pid, func(sup *supervisor) ([]ChildInfo, error) {
		return slice.Map(sup.children, func(_ int, c *child) ChildInfo {
			return ChildInfo{
				ID:       c.spec.ID,
				PID:      c.pid,
				Running:  c.running,
				Restarts: c.restarts,
				Type:     c.spec.Type,
				Node:     c.spec.TargetNode,
			}
		}), nil
	})
}

// CountChildren 统计子进程
func CountChildren(sched *actor.Scheduler, pid actor.PID) (Counts, error) {
	return call(sched, pid, func(sup *supervisor) (Counts, error) {
		var counts Counts
		for _, c := range sup.children {
			counts.Specs++
			if c.running {
				counts.Active++
			}
			if c.spec.Type == SupervisorChild {
				counts.Supervisors++
			} else {
				counts.Workers++
			}
		}
		return counts, nil
	})
}

// StartChild 动态添加子进程
// simple_one_for_one 只使用 spec.Args，其余字段来自模板
func StartChild(sched *actor.Scheduler, pid actor.PID, spec ChildSpec) (actor.PID, error) {
	return call(sched, pid, func(sup *supervisor) (actor.PID, error) {
		if sup.cfg.Strategy == SimpleOneForOne {
			tpl, err := sup.template()
			if err != nil {
				return 0, err
			}
			sup.dynamic++
			tpl.ID = fmt.Sprintf("%s-%d", tpl.ID, sup.dynamic)
			tpl.Args = spec.Args
			spec = tpl
		} else if sup.findID(spec.ID) >= 0 {
			return 0, errs.ErrChildAlreadyExists
		}
		c := &child{spec: spec}
		if err := sup.startChild(c); err != nil {
			return 0, err
		}
		sup.children = append(sup.children, c)
		return c.pid, nil
	})
}

// TerminateChild 终止子进程，静态策略保留规格，simple_one_for_one 直接删除
func TerminateChild(sched *actor.Scheduler, pid actor.PID, id string) error {
	_, err := call(sched, pid, func(sup *supervisor) (struct{}, error) {
		idx := sup.findID(id)
		if idx < 0 {
			return struct{}{}, errs.ErrChildNotFound
		}
		c := sup.children[idx]
		if c.running {
			sup.terminateChild(c)
		}
		if sup.cfg.Strategy == SimpleOneForOne {
			sup.children = slice.DeleteAt(sup.children, idx)
		}
		return struct{}{}, nil
	})
	return err
}

// RestartChild 重新启动一个已终止的子进程
func RestartChild(sched *actor.Scheduler, pid actor.PID, id string) (actor.PID, error) {
	return call(sched, pid, func(sup *supervisor) (actor.PID, error) {
		if sup.cfg.Strategy == SimpleOneForOne {
			return 0, errs.ErrUnsupportedStrategy
		}
		idx := sup.findID(id)
		if idx < 0 {
			return 0, errs.ErrChildNotFound
		}
		c := sup.children[idx]
		if c.running {
			return 0, errs.ErrChildRunning
		}
		if err := sup.startChild(c); err != nil {
			return 0, err
		}
		return c.pid, nil
	})
}

// DeleteChild 删除已终止子进程的规格
func DeleteChild(sched *actor.Scheduler, pid actor.PID, id string) error {
	_, err := call(sched, pid, func(sup *supervisor) (struct{}, error) {
		if sup.cfg.Strategy == SimpleOneForOne {
			return struct{}{}, errs.ErrUnsupportedStrategy
		}
		idx := sup.findID(id)
		if idx < 0 {
			return struct{}{}, errs.ErrChildNotFound
		}
		if sup.children[idx].running {
			return struct{}{}, errs.ErrChildRunning
		}
		sup.children = slice.DeleteAt(sup.children, idx)
		return struct{}{}, nil
	})
	return err
}

// Stop 逆序终止全部子进程后以 shutdown 退出
func Stop(sched *actor.Scheduler, pid actor.PID, timeout time.Duration) error {
	exited := sched.Watch(pid)
	err := sched.PostTask(pid, func(ctx *actor.Context) {
		if sup, ok := ctx.State().(*supervisor); ok {
			sup.terminateAll()
			ctx.Stop(actor.Shutdown)
		}
	})
	if err != nil {
		return err
	}
	select {
	case <-exited:
		return nil
	case <-time.After(timeout):
		return errs.ErrWaiterTimeout
	}
}
