package actor

import (
	"runtime"
)

// DefaultReductionBudget 每次调度可消耗的 reduction 数量
const DefaultReductionBudget = 4000

// Options 调度器配置
type Options struct {
	Workers         int
	ReductionBudget int
	Creation        uint8
	GCThreshold     int
}

type Option func(*Options)

func loadOptions(options ...Option) Options {
	opts := Options{
		Workers:         runtime.NumCPU(),
		ReductionBudget: DefaultReductionBudget,
		Creation:        1,
		GCThreshold:     DefaultGCThreshold,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ReductionBudget <= 0 {
		opts.ReductionBudget = DefaultReductionBudget
	}
	if opts.GCThreshold <= 0 {
		opts.GCThreshold = DefaultGCThreshold
	}
	return opts
}

// WithWorkers worker 数量，0 表示 CPU 核数
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

func WithReductionBudget(n int) Option {
	return func(o *Options) {
		o.ReductionBudget = n
	}
}

// WithCreation 节点重启计数，写入每个本地 PID
func WithCreation(c uint8) Option {
	return func(o *Options) {
		o.Creation = c
	}
}

func WithGCThreshold(n int) Option {
	return func(o *Options) {
		o.GCThreshold = n
	}
}

// SpawnOptions spawn 参数
type SpawnOptions struct {
	LinkTo   PID
	Priority Priority
	TrapExit bool
	Name     string
	// BeforeStart 在进程入队之前调用，此时进程已可寻址但还没有运行
	BeforeStart func(pid PID)
}

type SpawnOption func(*SpawnOptions)

// LinkTo 创建时与 pid 建立链接，两端在进程入队前完成
func LinkTo(pid PID) SpawnOption {
	return func(o *SpawnOptions) {
		o.LinkTo = pid
	}
}

func WithPriority(p Priority) SpawnOption {
	return func(o *SpawnOptions) {
		o.Priority = p
	}
}

// WithTrapExit 创建时就开启 trap_exit
func WithTrapExit() SpawnOption {
	return func(o *SpawnOptions) {
		o.TrapExit = true
	}
}

// BeforeStart 注册入队前回调
func BeforeStart(f func(pid PID)) SpawnOption {
	return func(o *SpawnOptions) {
		o.BeforeStart = f
	}
}

// WithName 创建时注册本地名字
func WithName(name string) SpawnOption {
	return func(o *SpawnOptions) {
		o.Name = name
	}
}
