package actor

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ExitKind 退出原因分类
type ExitKind uint8

const (
	// ExitNormal 正常结束，不会级联到非 trap_exit 的链接进程
	ExitNormal ExitKind = iota
	// ExitShutdown supervisor 要求的有序关闭
	ExitShutdown
	// ExitKilled 无条件终止，直接发送时不可捕获
	ExitKilled
	// ExitCustom 携带任意描述的异常退出，panic 也归为此类
	ExitCustom
	// ExitNoconnection 远端节点断开
	ExitNoconnection
	// ExitNoproc 监视目标在建立监视时已不存在
	ExitNoproc
)

var exitKindNames = map[ExitKind]string{
	ExitNormal:       "normal",
	ExitShutdown:     "shutdown",
	ExitKilled:       "killed",
	ExitCustom:       "custom",
	ExitNoconnection: "noconnection",
	ExitNoproc:       "noproc",
}

func (k ExitKind) String() string {
	if name, ok := exitKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("exit(%d)", uint8(k))
}

// ExitReason 进程退出原因
type ExitReason struct {
	Kind ExitKind
	Data []byte
}

var (
	Normal       = ExitReason{Kind: ExitNormal}
	Shutdown     = ExitReason{Kind: ExitShutdown}
	Killed       = ExitReason{Kind: ExitKilled}
	Noconnection = ExitReason{Kind: ExitNoconnection}
	Noproc       = ExitReason{Kind: ExitNoproc}
)

// Custom 构造自定义退出原因
func Custom(desc string) ExitReason {
	return ExitReason{Kind: ExitCustom, Data: []byte(desc)}
}

// IsNormal normal 和 shutdown 都视为正常结束
func (r ExitReason) IsNormal() bool {
	return r.Kind == ExitNormal || r.Kind == ExitShutdown
}

func (r ExitReason) Equal(o ExitReason) bool {
	return r.Kind == o.Kind && string(r.Data) == string(o.Data)
}

func (r ExitReason) String() string {
	if r.Kind == ExitCustom {
		return "custom(" + string(r.Data) + ")"
	}
	return r.Kind.String()
}

// Encode 编码为 [kind][len-prefixed data]，只有 custom 携带数据
func (r ExitReason) Encode() []byte {
	return r.AppendTo(nil)
}

func (r ExitReason) AppendTo(b []byte) []byte {
	b = append(b, byte(r.Kind))
	if r.Kind == ExitCustom {
		b = protowire.AppendBytes(b, r.Data)
	}
	return b
}

// DecodeExitReason 解析退出原因，返回消费的字节数
func DecodeExitReason(b []byte) (ExitReason, int, error) {
	if len(b) < 1 {
		return ExitReason{}, 0, fmt.Errorf("exit reason: empty buffer")
	}
	kind := ExitKind(b[0])
	if _, ok := exitKindNames[kind]; !ok {
		return ExitReason{}, 0, fmt.Errorf("exit reason: unknown kind %d", b[0])
	}
	if kind != ExitCustom {
		return ExitReason{Kind: kind}, 1, nil
	}
	data, n := protowire.ConsumeBytes(b[1:])
	if n < 0 {
		return ExitReason{}, 0, fmt.Errorf("exit reason: %w", protowire.ParseError(n))
	}
	return ExitReason{Kind: kind, Data: append([]byte(nil), data...)}, 1 + n, nil
}

// ExitSignal trap_exit 进程收到的 EXIT 消息内容
type ExitSignal struct {
	From   PID
	Reason ExitReason
}

func (e ExitSignal) Encode() []byte {
	b := protowire.AppendFixed64(nil, uint64(e.From))
	return e.Reason.AppendTo(b)
}

func DecodeExitSignal(b []byte) (ExitSignal, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return ExitSignal{}, fmt.Errorf("exit signal: %w", protowire.ParseError(n))
	}
	reason, _, err := DecodeExitReason(b[n:])
	if err != nil {
		return ExitSignal{}, err
	}
	return ExitSignal{From: PID(v), Reason: reason}, nil
}

// DownSignal 监视目标退出后发给监视者的 DOWN 消息内容
type DownSignal struct {
	Ref    MonitorRef
	From   PID
	Reason ExitReason
}

func (d DownSignal) Encode() []byte {
	b := protowire.AppendFixed64(nil, uint64(d.Ref))
	b = protowire.AppendFixed64(b, uint64(d.From))
	return d.Reason.AppendTo(b)
}

func DecodeDownSignal(b []byte) (DownSignal, error) {
	ref, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return DownSignal{}, fmt.Errorf("down signal: %w", protowire.ParseError(n))
	}
	from, m := protowire.ConsumeFixed64(b[n:])
	if m < 0 {
		return DownSignal{}, fmt.Errorf("down signal: %w", protowire.ParseError(m))
	}
	reason, _, err := DecodeExitReason(b[n+m:])
	if err != nil {
		return DownSignal{}, err
	}
	return DownSignal{Ref: MonitorRef(ref), From: PID(from), Reason: reason}, nil
}
