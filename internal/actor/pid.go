package actor

import (
	"fmt"
)

const (
	localIDBits  = 40
	creationBits = 8

	localIDMask  = 1<<localIDBits - 1
	creationMask = 1<<creationBits - 1

	creationShift = localIDBits
	nodeIDShift   = localIDBits + creationBits

	// MaxLocalID 单个节点生命周期内可分配的最大进程编号
	MaxLocalID = localIDMask
)

// PID 进程标识 (node_id, creation, local_id)
// node_id 为 0 表示本节点；creation 区分同名节点的不同启动实例
type PID uint64

// NewPID 打包三元组
func NewPID(nodeID uint16, creation uint8, localID uint64) PID {
	return PID(uint64(nodeID)<<nodeIDShift | uint64(creation)<<creationShift | localID&localIDMask)
}

func (p PID) NodeID() uint16 {
	return uint16(uint64(p) >> nodeIDShift)
}

func (p PID) Creation() uint8 {
	return uint8(uint64(p) >> creationShift & creationMask)
}

func (p PID) LocalID() uint64 {
	return uint64(p) & localIDMask
}

// IsLocal 是否属于本节点
func (p PID) IsLocal() bool {
	return p.NodeID() == 0
}

// IsZero 零值 PID，远程 spawn 失败时作为哨兵返回
func (p PID) IsZero() bool {
	return p == 0
}

// WithNodeID 替换 node_id，用于跨节点传输时重新定位
func (p PID) WithNodeID(nodeID uint16) PID {
	return NewPID(nodeID, p.Creation(), p.LocalID())
}

func (p PID) String() string {
	if p.IsLocal() {
		return fmt.Sprintf("<0.%d>", p.LocalID())
	}
	return fmt.Sprintf("<%d.%d.%d>", p.NodeID(), p.LocalID(), p.Creation())
}
