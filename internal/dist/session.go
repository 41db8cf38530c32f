package dist

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/timex"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"go.uber.org/zap"
)

// session 与一个远端节点的认证连接
// 写入由 wmu 串行化，读取只在 readLoop 中按顺序处理
type session struct {
	stopper.Stopper
	node        *Node
	name        string
	id          uint16
	creation    uint8
	initiator   bool
	conn        net.Conn
	connectedAt time.Time

	wmu       sync.Mutex
	lastRecv  atomic.Int64
	heartbeat atomic.Pointer[timex.Timer]
	replaced  atomic.Bool
}

func newSession(n *Node, conn net.Conn, peer peerHello, id uint16, initiator bool) *session {
	s := &session{
		node:        n,
		name:        peer.name,
		id:          id,
		creation:    peer.creation,
		initiator:   initiator,
		conn:        conn,
		connectedAt: time.Now(),
	}
	s.lastRecv.Store(time.Now().UnixNano())
	return s
}

func (s *session) start(wc *workers.WaitContext) {
	workers.GoWith(wc, s.readLoop)
	s.scheduleHeartbeat()
}

func (s *session) send(op uint8, body []byte) error {
	if s.IsStop() {
		return errs.ErrSessionClosed
	}
	if len(body)+1 > MaxFrameSize {
		return errs.ErrFrameTooLarge
	}
	s.wmu.Lock()
	if d := s.node.cfg.writeTimeout(); d > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(d))
	}
	err := writeFrame(s.conn, op, body)
	s.wmu.Unlock()
	if err != nil {
		s.close(err)
		return errs.ErrSessionClosed
	}
	return nil
}

func (s *session) readLoop(_ *workers.WaitContext) {
	var err error
	defer func() {
		s.close(err)
	}()
	for !s.IsStop() {
		var op uint8
		var body []byte
		op, body, err = readFrame(s.conn, MaxFrameSize)
		if err != nil {
			return
		}
		s.lastRecv.Store(time.Now().UnixNano())
		if err = s.node.dispatch(s, op, body); err != nil {
			glog.Warn("处理节点消息失败", zap.String("peer", s.name), zap.Uint8("op", op), zap.Error(err))
			return
		}
	}
}

// scheduleHeartbeat 时间轮回调里不能阻塞，写操作交给协程池
func (s *session) scheduleHeartbeat() {
	interval := s.node.cfg.heartbeat()
	if interval <= 0 || s.IsStop() {
		return
	}
	s.heartbeat.Store(timex.AfterFunc(interval, func() {
		workers.Submit(s.beat, nil)
	}))
}

func (s *session) beat() {
	if s.IsStop() {
		return
	}
	interval := s.node.cfg.heartbeat()
	silent := time.Since(time.Unix(0, s.lastRecv.Load()))
	if silent > missedHeartbeats*interval {
		s.close(errs.ErrHeartbeatTimeout)
		return
	}
	if s.send(OpHeartbeat, nil) == nil {
		s.scheduleHeartbeat()
	}
}

func (s *session) close(err error) {
	if !s.Stop() {
		return
	}
	if t := s.heartbeat.Load(); t != nil {
		t.Stop()
	}
	_ = s.conn.Close()
	s.node.sessionDown(s, err)
}
