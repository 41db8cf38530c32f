package actor

import (
	"math"

	"github.com/dzm2020/mesh/pkg/lib/serializer"
)

// 运行时保留 tag，从 MaxUint64 向下分配
const (
	// ExitSignalTag trap_exit 进程收到的退出信号
	ExitSignalTag uint64 = math.MaxUint64 - iota
	// BridgeDataTag bridge 收到文本数据
	BridgeDataTag
	// BridgeBinaryTag bridge 收到二进制数据
	BridgeBinaryTag
	// BridgeDisconnectTag bridge 连接断开
	BridgeDisconnectTag
	// BridgeConnectTag bridge 连接建立
	BridgeConnectTag
	// DownSignalTag 监视目标退出
	DownSignalTag
	// SpawnReplyTag 远程 spawn 的回复
	SpawnReplyTag
	// SystemTaskTag 进程内执行的本地控制任务，不会出现在网络上
	SystemTaskTag
	// JobResultTag Async 任务结果
	JobResultTag
	// TimeoutTag receive 超时哨兵，不会进入邮箱
	TimeoutTag
)

// ReservedTagFloor 大于等于该值的 tag 只允许运行时使用
const ReservedTagFloor uint64 = math.MaxUint64 - 15

// IsReservedTag 判断 tag 是否处于保留区间
func IsReservedTag(tag uint64) bool {
	return tag >= ReservedTagFloor
}

// Message 邮箱中的一条消息
type Message struct {
	Tag     uint64
	Payload []byte
	From    PID

	handle Handle
	task   func(ctx *Context)
}

var timeoutMessage = &Message{Tag: TimeoutTag}

// IsTimeout receive 超时返回的哨兵
func (m *Message) IsTimeout() bool {
	return m == nil || m.Tag == TimeoutTag
}

// Handle 消息负载在接收进程堆上的句柄，接收之前为 0
func (m *Message) Handle() Handle {
	return m.handle
}

// Decode 用 msgpack 解码负载
func (m *Message) Decode(v interface{}) error {
	return serializer.MsgPack.Unmarshal(m.Payload, v)
}

// Encode msgpack 编码，供 Send 的调用方构造负载
func Encode(v interface{}) ([]byte, error) {
	return serializer.MsgPack.Marshal(v)
}

// ExitSignal 解析 ExitSignalTag 消息
func (m *Message) ExitSignal() (ExitSignal, bool) {
	if m.Tag != ExitSignalTag {
		return ExitSignal{}, false
	}
	sig, err := DecodeExitSignal(m.Payload)
	return sig, err == nil
}

// DownSignal 解析 DownSignalTag 消息
func (m *Message) DownSignal() (DownSignal, bool) {
	if m.Tag != DownSignalTag {
		return DownSignal{}, false
	}
	sig, err := DecodeDownSignal(m.Payload)
	return sig, err == nil
}
