// Package dist 节点间分发：握手、会话、远程 spawn、远程链接和监视、全局注册表、集群广播
package dist

import (
	"context"
	"net"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	discoveryiface "github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/netutil"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	mqiface "github.com/dzm2020/mesh/pkg/messageQue/iface"
	"go.uber.org/zap"
)

var (
	_ actor.Remote        = (*Node)(nil)
	_ actor.RemoteSpawner = (*Node)(nil)
)

type Option func(*Node)

// WithMessageQue 集群广播改走消息队列
func WithMessageQue(mq mqiface.IMessageQue) Option {
	return func(n *Node) {
		n.mq = mq
	}
}

// WithRegistryStore 全局注册表持久化
func WithRegistryStore(store RegistryStore) Option {
	return func(n *Node) {
		n.store = store
	}
}

// Node 本节点，实现 actor.Remote
type Node struct {
	stopper.Stopper
	cfg   *Config
	sched *actor.Scheduler
	name  string

	mu       sync.RWMutex
	sessions map[string]*session
	byID     map[uint16]*session
	ids      map[string]uint16
	names    map[uint16]string
	dialing  map[string]struct{}
	cleaning map[string]chan struct{} // 断线清理未完成的节点，完成前不接纳新会话
	nextID   uint16

	pending *maputil.ConcurrentMap[uint64, *pendingSpawn]
	nextReq atomic.Uint64

	global *globalRegistry
	topics *maputil.ConcurrentMap[string, BroadcastHandler]
	mq     mqiface.IMessageQue
	mqSub  mqiface.ISubscription
	store  RegistryStore

	discovery discoveryiface.IDiscovery
	unwatch   func()

	listener net.Listener
	wc       *workers.WaitContext
	started  atomic.Bool
}

func NewNode(sched *actor.Scheduler, cfg *Config, options ...Option) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if _, _, _, err := ParseNodeName(cfg.Name); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:      cfg,
		sched:    sched,
		name:     cfg.Name,
		sessions: make(map[string]*session),
		byID:     make(map[uint16]*session),
		ids:      make(map[string]uint16),
		names:    make(map[uint16]string),
		dialing:  make(map[string]struct{}),
		cleaning: make(map[string]chan struct{}),
		pending:  maputil.NewConcurrentMap[uint64, *pendingSpawn](8),
		global:   newGlobalRegistry(),
		topics:   maputil.NewConcurrentMap[string, BroadcastHandler](8),
		wc:       workers.WithWaitContext(nil),
	}
	for _, option := range options {
		option(n)
	}
	sched.OnExit(n.onProcessExit)
	return n, nil
}

// Name 本节点全名，Start 之后端口为实际监听端口
func (n *Node) Name() string {
	return n.name
}

func (n *Node) Scheduler() *actor.Scheduler {
	return n.sched
}

// Start 开始监听、挂载到调度器、连接配置中的节点
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}
	addr := n.cfg.Listen
	if addr == "" {
		var err error
		if addr, err = nodeAddr(n.name); err != nil {
			return err
		}
	}
	ln, err := netutil.NewListenConfig().Listen(ctx, "tcp", addr)
	if err != nil {
		return xerror.Wrapf(err, "listen %s", addr)
	}
	n.listener = ln
	short, host, port, _ := ParseNodeName(n.name)
	if port == 0 {
		port = ln.Addr().(*net.TCPAddr).Port
		n.name = short + "@" + net.JoinHostPort(host, strconv.Itoa(port))
	}

	if n.mq != nil {
		if err = n.subscribeBroadcast(); err != nil {
			_ = ln.Close()
			return err
		}
	}
	if n.store != nil {
		if err = n.store.Purge(ctx, n.name); err != nil {
			glog.Warn("清理全局注册表快照失败", zap.Error(err))
		}
	}

	n.sched.SetRemote(n)
	workers.GoWith(n.wc, n.acceptLoop)
	glog.Info("节点启动", zap.String("node", n.name), zap.String("listen", ln.Addr().String()), zap.Uint8("creation", n.sched.Creation()))

	for _, peer := range n.cfg.Peers {
		n.connectAsync(peer)
	}
	return nil
}

func (n *Node) acceptLoop(wc *workers.WaitContext) {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.IsStop() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			glog.Error("节点监听退出", zap.Error(err))
			return
		}
		workers.GoWith(n.wc, func(*workers.WaitContext) {
			n.serveConn(conn)
		})
	}
}

func (n *Node) serveConn(conn net.Conn) {
	if err := netutil.TuneConn(conn, n.cfg.heartbeat()); err != nil {
		glog.Debug("调整入站连接失败", zap.Error(err))
	}
	peer, err := handshake(conn, n.name, n.sched.Creation(), n.cfg.Cookie, false, n.cfg.connectTimeout(), n.admit)
	if err != nil {
		glog.Warn("握手失败", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		_ = conn.Close()
		return
	}
	if _, err = n.addSession(conn, peer, false); err != nil {
		glog.Debug("入站会话被拒绝", zap.String("peer", peer.name), zap.Error(err))
	}
}

// admit 接收方收到对端名字后决定是否继续握手
// 双方同时互连时只保留名字较小一方发起的连接
func (n *Node) admit(peer peerHello) error {
	if peer.name == n.name {
		return errs.ErrConnectSelf
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if s, ok := n.sessions[peer.name]; ok && s.creation == peer.creation && n.winning(s.initiator, peer.name) {
		return errs.ErrDuplicateSession
	}
	if _, ok := n.dialing[peer.name]; ok && n.name < peer.name {
		return errs.ErrDuplicateSession
	}
	return nil
}

// winning 由 initiator 决定的连接是否是重复连接仲裁中的胜者
func (n *Node) winning(initiator bool, peer string) bool {
	return initiator == (n.name < peer)
}

// Connect 连接节点，已有会话时直接返回
func (n *Node) Connect(name string) error {
	if n.IsStop() {
		return errs.ErrSystemShuttingDown
	}
	if !n.started.Load() {
		return errs.ErrDistNotStarted
	}
	if name == n.name {
		return errs.ErrConnectSelf
	}
	if n.sessionByName(name) != nil {
		return nil
	}
	addr, err := nodeAddr(name)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.dialing[name] = struct{}{}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.dialing, name)
		n.mu.Unlock()
	}()

	conn, err := netutil.Dial(context.Background(), addr, n.cfg.connectTimeout(), n.cfg.heartbeat())
	if err != nil {
		return xerror.Wrapf(err, "dial %s", name)
	}
	peer, err := handshake(conn, n.name, n.sched.Creation(), n.cfg.Cookie, true, n.cfg.connectTimeout(), nil)
	if err != nil {
		_ = conn.Close()
		glog.Warn("握手失败", zap.String("peer", name), zap.Error(err))
		return err
	}
	if peer.name != name {
		_ = conn.Close()
		return xerror.Wrapf(errs.ErrHandshakeFailed, "expected %s, got %s", name, peer.name)
	}
	_, err = n.addSession(conn, peer, true)
	return err
}

func (n *Node) connectAsync(name string) {
	workers.Submit(func() {
		if err := n.Connect(name); err != nil {
			glog.Warn("连接节点失败", zap.String("peer", name), zap.Error(err))
		}
	}, nil)
}

func (n *Node) addSession(conn net.Conn, peer peerHello, initiator bool) (*session, error) {
	deadline := time.After(n.cfg.connectTimeout())
	n.mu.Lock()
	for {
		if n.IsStop() {
			n.mu.Unlock()
			_ = conn.Close()
			return nil, errs.ErrSystemShuttingDown
		}
		// node_id 会被同名节点复用，旧会话的链接和监视清理完之前不能建立新会话
		if done, ok := n.cleaning[peer.name]; ok {
			n.mu.Unlock()
			select {
			case <-done:
			case <-deadline:
				_ = conn.Close()
				return nil, xerror.Wrapf(errs.ErrSessionClosed, "cleanup of %s still running", peer.name)
			}
			n.mu.Lock()
			continue
		}
		old := n.sessions[peer.name]
		if old == nil || old.creation == peer.creation {
			break
		}
		// 对端已经重启，旧实例按断线处理
		n.mu.Unlock()
		old.close(errs.ErrDuplicateSession)
		runtime.Gosched()
		n.mu.Lock()
	}
	old := n.sessions[peer.name]
	if old != nil && (n.winning(old.initiator, peer.name) || !n.winning(initiator, peer.name)) {
		n.mu.Unlock()
		_ = conn.Close()
		return nil, errs.ErrDuplicateSession
	}
	id := n.idOfLocked(peer.name)
	s := newSession(n, conn, peer, id, initiator)
	if old != nil {
		// 同一实例的重复连接被替换，不做断线清理
		old.replaced.Store(true)
	}
	n.sessions[peer.name] = s
	n.byID[id] = s
	n.mu.Unlock()

	if old != nil {
		old.close(errs.ErrDuplicateSession)
	}

	s.start(n.wc)
	n.sendPeerList(s)
	n.sendGlobalSync(s)
	glog.Info("节点会话建立", zap.String("node", n.name), zap.String("peer", peer.name), zap.Uint16("nodeId", id), zap.Bool("initiator", initiator))
	return s, nil
}

// sessionDown 会话断开：同步摘除会话并让等待中的请求失败，链接和监视的清理异步进行
func (n *Node) sessionDown(s *session, err error) {
	if s.replaced.Load() {
		return
	}
	done := make(chan struct{})
	n.mu.Lock()
	current := n.sessions[s.name] == s
	if current {
		delete(n.sessions, s.name)
		delete(n.byID, s.id)
		n.cleaning[s.name] = done
	}
	n.mu.Unlock()
	if !current {
		return
	}
	glog.Info("节点会话断开", zap.String("node", n.name), zap.String("peer", s.name), zap.Error(err))
	n.cleanupNode(s, err, done)
}

// cleanupNode 链接和监视异步清理，结束后关闭 done 放行同名节点的新会话
func (n *Node) cleanupNode(s *session, err error, done chan struct{}) {
	n.failPending(s.name)
	for _, name := range n.global.dropNode(s.id) {
		glog.Debug("节点断开，移除全局名字", zap.String("name", name), zap.String("peer", s.name))
	}
	id := s.id
	workers.Submit(func() {
		defer func() {
			n.mu.Lock()
			delete(n.cleaning, s.name)
			n.mu.Unlock()
			close(done)
		}()
		fired := n.sched.NodeDown(id)
		glog.Debug("断线清理完成", zap.String("peer", s.name), zap.Int("signals", fired), zap.NamedError("cause", err))
	}, nil)
}

// Disconnect 主动断开与 name 的会话
func (n *Node) Disconnect(name string) bool {
	s := n.sessionByName(name)
	if s == nil {
		return false
	}
	s.close(errs.ErrSessionClosed)
	return true
}

// Sessions 已连接节点名，按字母序
func (n *Node) Sessions() []string {
	n.mu.RLock()
	names := make([]string, 0, len(n.sessions))
	for name := range n.sessions {
		names = append(names, name)
	}
	n.mu.RUnlock()
	sort.Strings(names)
	return names
}

// NodeID 节点名在本节点的编号
func (n *Node) NodeID(name string) (uint16, bool) {
	if name == n.name {
		return 0, true
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.ids[name]
	return id, ok
}

// NodeName PID 所在节点名
func (n *Node) NodeName(pid actor.PID) string {
	if pid.IsLocal() {
		return n.name
	}
	name, _ := n.nameOf(pid.NodeID())
	return name
}

func (n *Node) sessionByName(name string) *session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sessions[name]
}

func (n *Node) sessionFor(pid actor.PID) *session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byID[pid.NodeID()]
}

func (n *Node) allSessions() []*session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	list := make([]*session, 0, len(n.sessions))
	for _, s := range n.sessions {
		list = append(list, s)
	}
	return list
}

func (n *Node) nameOf(id uint16) (string, bool) {
	if id == 0 {
		return n.name, true
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[id]
	return name, ok
}

func (n *Node) idOf(name string) uint16 {
	if name == n.name {
		return 0
	}
	n.mu.RLock()
	id, ok := n.ids[name]
	n.mu.RUnlock()
	if ok {
		return id
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idOfLocked(name)
}

// idOfLocked 同一个节点名在本节点生命周期内编号不变，重连后的新实例靠 creation 区分
func (n *Node) idOfLocked(name string) uint16 {
	if id, ok := n.ids[name]; ok {
		return id
	}
	n.nextID++
	id := n.nextID
	n.ids[name] = id
	n.names[id] = name
	return id
}

// Close 断开所有会话并停止监听
func (n *Node) Close(ctx context.Context) error {
	if !n.Stop() {
		return nil
	}
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.leaveDiscovery()
	if n.mqSub != nil {
		_ = n.mqSub.Unsubscribe()
	}
	for _, s := range n.allSessions() {
		s.close(errs.ErrSessionClosed)
	}
	n.sched.SetRemote(nil)
	err := n.wc.Close(ctx)
	glog.Info("节点关闭", zap.String("node", n.name), zap.Error(err))
	return err
}
