// Package supervisor 监督树：子进程规格、重启策略和重启频率限制
package supervisor

import (
	"time"

	"github.com/dzm2020/mesh/internal/actor"
)

// DefaultShutdownTimeout 未指定时等待子进程退出的时间
const DefaultShutdownTimeout = 5000 * time.Millisecond

// Strategy 重启策略
type Strategy uint8

const (
	// OneForOne 只重启失败的子进程
	OneForOne Strategy = iota
	// OneForAll 终止并重启全部子进程
	OneForAll
	// RestForOne 终止并重启失败的子进程以及它之后启动的子进程
	RestForOne
	// SimpleOneForOne 所有子进程由同一个模板动态创建
	SimpleOneForOne
)

func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	case SimpleOneForOne:
		return "simple_one_for_one"
	}
	return "unknown"
}

// RestartType 子进程退出后是否重启
type RestartType uint8

const (
	// Permanent 总是重启
	Permanent RestartType = iota
	// Transient 只在异常退出时重启，normal 和 shutdown 不重启
	Transient
	// Temporary 从不重启，退出后移除
	Temporary
)

// ShutdownKind 终止子进程的方式
type ShutdownKind uint8

const (
	// ShutdownTimeout 先发 shutdown，超时后 kill
	ShutdownTimeout ShutdownKind = iota
	// BrutalKill 直接 kill
	BrutalKill
)

type Shutdown struct {
	Kind    ShutdownKind
	Timeout time.Duration
}

// WithTimeout 超时关闭
func WithTimeout(d time.Duration) Shutdown {
	return Shutdown{Kind: ShutdownTimeout, Timeout: d}
}

// Kill 直接终止
func Kill() Shutdown {
	return Shutdown{Kind: BrutalKill}
}

// ChildType 普通进程或嵌套的 supervisor
type ChildType uint8

const (
	Worker ChildType = iota
	SupervisorChild
)

// ChildSpec 子进程规格
// TargetNode 非空时子进程在远程节点上按 StartFuncName 创建，重启后仍然在同一个节点
type ChildSpec struct {
	ID            string
	Start         actor.EntryFunc
	Args          []byte
	Restart       RestartType
	Shutdown      Shutdown
	Type          ChildType
	TargetNode    string
	StartFuncName string
}

func (c *ChildSpec) IsRemote() bool {
	return c.TargetNode != ""
}

// Config supervisor 配置
type Config struct {
	Strategy    Strategy
	MaxRestarts int
	MaxSeconds  int
	Children    []ChildSpec
	// ShutdownTimeout 子进程规格没有给出超时时使用
	ShutdownTimeout time.Duration
}

// ChildInfo WhichChildren 返回的子进程信息
type ChildInfo struct {
	ID       string
	PID      actor.PID
	Running  bool
	Restarts int
	Type     ChildType
	Node     string
}

// Counts CountChildren 的结果
type Counts struct {
	Specs       int
	Active      int
	Supervisors int
	Workers     int
}
