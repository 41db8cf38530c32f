package errs

import (
	"errors"
	"fmt"
)

// ========== Actor 相关错误 ==========

// 进程相关错误
var (
	// ErrProcessNotFound 进程不存在或已退出
	ErrProcessNotFound = errors.New("process not found")
	// ErrEntryIsNil 入口函数为空
	ErrEntryIsNil = errors.New("entry function is nil")
	// ErrReservedTag 用户消息使用了运行时保留 tag
	ErrReservedTag = errors.New("message tag is reserved")
	// ErrPIDExhausted 本地进程编号耗尽
	ErrPIDExhausted = errors.New("local pid space exhausted")
)

// 注册表相关错误
var (
	// ErrNameCannotBeEmpty 名字为空
	ErrNameCannotBeEmpty = errors.New("name cannot be empty")
	// ErrNameAlreadyRegistered 名字已被占用
	ErrNameAlreadyRegistered = errors.New("name already registered")
	// ErrNameNotRegistered 名字未注册
	ErrNameNotRegistered = errors.New("name not registered")
)

// 堆相关错误
var (
	// ErrInvalidHandle 堆句柄无效
	ErrInvalidHandle = errors.New("invalid heap handle")
	// ErrHeapCorrupted 对象引用指向不存在的槽位
	ErrHeapCorrupted = errors.New("heap object graph corrupted")
)

// 系统相关错误
var (
	// ErrSystemShuttingDown 系统正在关闭
	ErrSystemShuttingDown = errors.New("system is shutting down")
	// ErrRemoteIsNil 分布式层未启动
	ErrRemoteIsNil = errors.New("remote is nil")
)

// 等待器相关错误
var (
	// ErrWaiterTimeout 等待超时错误
	ErrWaiterTimeout = errors.New("waiter timeout")
)

// ========== Supervisor 相关错误 ==========

var (
	// ErrChildNotFound 子进程规格不存在
	ErrChildNotFound = errors.New("supervisor: child not found")
	// ErrChildAlreadyExists 子进程 id 重复
	ErrChildAlreadyExists = errors.New("supervisor: child already exists")
	// ErrChildRunning 删除规格前需要先终止
	ErrChildRunning = errors.New("supervisor: child is running")
	// ErrStartFuncMissing 没有可用的启动函数
	ErrStartFuncMissing = errors.New("supervisor: start function missing")
	// ErrUnsupportedStrategy 当前策略不支持该操作
	ErrUnsupportedStrategy = errors.New("supervisor: operation not supported by strategy")
	// ErrRestartLimitExceeded 窗口内重启次数超过限制
	ErrRestartLimitExceeded = errors.New("supervisor: restart limit exceeded")
	// ErrBadRecord 二进制记录解析失败
	ErrBadRecord = errors.New("supervisor: malformed record")
)

// ========== Dist 相关错误 ==========

var (
	// ErrHandshakeFailed 握手失败
	ErrHandshakeFailed = errors.New("dist: handshake failed")
	// ErrCookieMismatch cookie 不一致
	ErrCookieMismatch = errors.New("dist: cookie mismatch")
	// ErrNodeNotConnected 目标节点没有会话
	ErrNodeNotConnected = errors.New("dist: node not connected")
	// ErrFrameTooLarge 帧超过上限
	ErrFrameTooLarge = errors.New("dist: frame too large")
	// ErrSpawnFailed 远程 spawn 失败
	ErrSpawnFailed = errors.New("dist: remote spawn failed")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("dist: session closed")
	// ErrDistNotStarted 分布式层未启动
	ErrDistNotStarted = errors.New("dist: not started")
	// ErrHeartbeatTimeout 连续多个心跳周期没有收到对端数据
	ErrHeartbeatTimeout = errors.New("dist: heartbeat timeout")
	// ErrDuplicateSession 重复连接在仲裁中落败
	ErrDuplicateSession = errors.New("dist: duplicate session")
	// ErrConnectSelf 不能连接自己
	ErrConnectSelf = errors.New("dist: cannot connect to self")
)

// ========== Bridge 相关错误 ==========

var (
	// ErrBridgeClosed 连接已关闭
	ErrBridgeClosed = errors.New("bridge: connection closed")
	// ErrBridgeFrameTooLarge 帧长度超过上限
	ErrBridgeFrameTooLarge = errors.New("bridge: frame too large")
	// ErrOwnerRejected 新连接没有分配到所属进程
	ErrOwnerRejected = errors.New("bridge: no owner for connection")
)

func ErrBadFrame(op uint8, err error) error {
	return fmt.Errorf("dist: bad frame op=0x%02x: %w", op, err)
}

func ErrInvalidNodeName(name string, reason string) error {
	return fmt.Errorf("dist: invalid node name %q: %s", name, reason)
}

func ErrUnknownOp(op uint8) error {
	return fmt.Errorf("dist: unknown op 0x%02x", op)
}

// ========== 配置相关错误 ==========

func ErrReadConfigFileFailed(err error) error {
	return fmt.Errorf("read config file failed: %w", err)
}

func ErrUnmarshalConfigFailed(err error) error {
	return fmt.Errorf("unmarshal config failed: %w", err)
}

func ErrInvalidConfig(field, reason string) error {
	return fmt.Errorf("invalid config %s: %s", field, reason)
}
