package actor

import (
	"sort"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/internal/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

// functionTable 按名字登记的入口函数，远程 spawn 和 supervisor 记录通过名字找到入口
type functionTable struct {
	funcs *maputil.ConcurrentMap[string, EntryFunc]
}

func newFunctionTable() *functionTable {
	return &functionTable{funcs: maputil.NewConcurrentMap[string, EntryFunc](8)}
}

// RegisterFunc 登记入口函数，同名重复登记返回错误
func (s *Scheduler) RegisterFunc(name string, fn EntryFunc) error {
	if name == "" {
		return errs.ErrNameCannotBeEmpty
	}
	if fn == nil {
		return errs.ErrEntryIsNil
	}
	if _, loaded := s.funcs.funcs.GetOrSet(name, fn); loaded {
		return errs.ErrNameAlreadyRegistered
	}
	return nil
}

func (s *Scheduler) LookupFunc(name string) (EntryFunc, bool) {
	return s.funcs.funcs.Get(name)
}

// Funcs 已登记的函数名
func (s *Scheduler) Funcs() []string {
	var names []string
	s.funcs.funcs.Range(func(name string, _ EntryFunc) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// RemoteSpawner 分布式层提供的远程 spawn
// SpawnRequest 发出请求后立即返回请求 id，结果以 SpawnReplyTag 消息送回 from
type RemoteSpawner interface {
	SpawnRequest(from PID, node, fn string, args []byte, link bool) (uint64, error)
}

// EncodeSpawnReply spawn 回复负载，pid 为 0 表示失败
func EncodeSpawnReply(reqID uint64, pid PID) []byte {
	b := protowire.AppendFixed64(nil, reqID)
	return protowire.AppendFixed64(b, uint64(pid))
}

func DecodeSpawnReply(b []byte) (uint64, PID, bool) {
	id, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, false
	}
	pid, m := protowire.ConsumeFixed64(b[n:])
	if m < 0 {
		return 0, 0, false
	}
	return id, PID(pid), true
}

// SpawnRemote 在 node 上按函数名创建进程，等待回复期间只阻塞当前进程
// link 为 true 时链接在同一次往返中建立
func (c *Context) SpawnRemote(node, fn string, args []byte, link bool, timeout time.Duration) (PID, error) {
	c.p.reduce(1)
	sp, ok := c.s.getRemote().(RemoteSpawner)
	if !ok {
		return 0, errs.ErrRemoteIsNil
	}
	reqID, err := sp.SpawnRequest(c.p.pid, node, fn, args, link)
	if err != nil {
		return 0, err
	}
	msg := c.ReceiveMatch(func(m *Message) bool {
		if m.Tag != SpawnReplyTag {
			return false
		}
		id, _, ok := DecodeSpawnReply(m.Payload)
		return ok && id == reqID
	}, timeout)
	if msg.IsTimeout() {
		return 0, errs.ErrWaiterTimeout
	}
	_, pid, _ := DecodeSpawnReply(msg.Payload)
	if pid.IsZero() {
		return 0, errs.ErrSpawnFailed
	}
	return pid, nil
}
