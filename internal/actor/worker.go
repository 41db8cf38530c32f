package actor

import (
	"sync/atomic"

	"github.com/dzm2020/mesh/pkg/lib/mpsc"
	"github.com/dzm2020/mesh/pkg/lib/workers"
)

// worker 调度线程，持有高低两个优先级的运行队列
type worker struct {
	id       int32
	high     *mpsc.Queue[*Process]
	normal   *mpsc.Queue[*Process]
	signal   chan struct{}
	yield    chan yieldKind
	executed atomic.Uint64
}

func newWorker(id int32) *worker {
	return &worker{
		id:     id,
		high:   mpsc.New[*Process](),
		normal: mpsc.New[*Process](),
		signal: make(chan struct{}, 1),
		yield:  make(chan yieldKind),
	}
}

func (w *worker) push(p *Process) {
	if p.priority == PriorityHigh {
		w.high.Push(p)
	} else {
		w.normal.Push(p)
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *worker) pop() *Process {
	if p, ok := w.high.Pop(); ok {
		return p
	}
	if p, ok := w.normal.Pop(); ok {
		return p
	}
	return nil
}

func (w *worker) loop(wc *workers.WaitContext) {
	for {
		p := w.pop()
		if p == nil {
			select {
			case <-w.signal:
				continue
			case <-wc.IsFinish():
				return
			}
		}
		w.execute(p)
	}
}

// execute 恢复进程直到它让出
func (w *worker) execute(p *Process) {
	if !p.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		return
	}
	w.executed.Add(1)
	p.resume <- resumeToken{worker: w.id, yield: w.yield}
	switch <-w.yield {
	case yieldPreempt:
		p.state.Store(int32(StateReady))
		w.push(p)
	case yieldWait, yieldExit:
	}
}

func (w *worker) queued() int {
	return w.high.Len() + w.normal.Len()
}
