package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var defaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketSource gorilla 连接
// gorilla 的读超时会破坏连接状态，所以不实现 pollable，关闭时直接关连接唤醒读协程
type WebSocketSource struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func NewWebSocketSource(conn *websocket.Conn, options ...Option) *WebSocketSource {
	opts := loadOptions(options...)
	conn.SetReadLimit(int64(opts.MaxFrameSize))
	return &WebSocketSource{conn: conn, writeTimeout: opts.WriteTimeout}
}

func (s *WebSocketSource) Read() (Kind, []byte, error) {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch typ {
		case websocket.TextMessage:
			return Text, data, nil
		case websocket.BinaryMessage:
			return Binary, data, nil
		}
	}
}

func (s *WebSocketSource) Write(kind Kind, data []byte) error {
	typ := websocket.BinaryMessage
	if kind == Text {
		typ = websocket.TextMessage
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(typ, data)
}

// Close 先发 close 帧，所属进程崩溃时使用 1011
func (s *WebSocketSource) Close(reason error) error {
	code, text := websocket.CloseNormalClosure, ""
	if reason != nil {
		code, text = websocket.CloseInternalServerErr, reason.Error()
		if len(text) > 120 {
			text = text[:120]
		}
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	return s.conn.Close()
}

func (s *WebSocketSource) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Acceptor 为新连接创建所属进程，b 在所属进程收到 BridgeConnectTag 之前已经可用
type Acceptor func(b *Bridge) (actor.PID, error)

// WebSocketServer 每个连接一个读协程
type WebSocketServer struct {
	stopper.Stopper
	sched    *actor.Scheduler
	addr     string
	path     string
	options  []Option
	upgrader websocket.Upgrader
	listener net.Listener
	server   *http.Server
	accept   Acceptor
	bridges  *maputil.ConcurrentMap[uint64, *Bridge]
	wc       *workers.WaitContext
}

func NewWebSocketServer(sched *actor.Scheduler, addr, path string, options ...Option) *WebSocketServer {
	if path == "" {
		path = "/ws"
	}
	return &WebSocketServer{
		sched:    sched,
		addr:     addr,
		path:     path,
		options:  options,
		upgrader: defaultUpgrader,
		bridges:  maputil.NewConcurrentMap[uint64, *Bridge](16),
		wc:       workers.WithWaitContext(nil),
	}
}

// Start 监听后立即返回
func (s *WebSocketServer) Start(accept Acceptor) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return xerror.Wrapf(err, "websocket listen %s", s.addr)
	}
	s.listener = ln
	s.accept = accept
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handle)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	workers.GoWith(s.wc, func(*workers.WaitContext) {
		glog.Info("WebSocket监听", zap.String("addr", s.Addr()), zap.String("path", s.path))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Error("WebSocket监听退出", zap.String("addr", s.Addr()), zap.Error(err))
		}
	})
	return nil
}

// Serve 阻塞直到 ctx 结束
func (s *WebSocketServer) Serve(ctx context.Context, accept Acceptor) error {
	if err := s.Start(accept); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr 实际监听地址
func (s *WebSocketServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *WebSocketServer) Path() string {
	return s.path
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.IsStop() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warn("WebSocket升级失败", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	src := NewWebSocketSource(conn, s.options...)
	b := newBridge(s.sched, src, loadOptions(s.options...))
	owner, err := s.accept(b)
	if err != nil {
		glog.Warn("WebSocket连接被拒绝", zap.String("remote", src.RemoteAddr()), zap.Error(err))
		_ = src.Close(err)
		return
	}
	if err = b.attach(owner); err != nil {
		return
	}
	s.bridges.Set(b.ID(), b)
	b.OnClose(func(b *Bridge) {
		s.bridges.Delete(b.ID())
	})
	workers.GoWith(b.wc, func(*workers.WaitContext) {
		b.readLoop(src)
	})
}

// Count 当前连接数
func (s *WebSocketServer) Count() int {
	n := 0
	s.bridges.Range(func(uint64, *Bridge) bool {
		n++
		return true
	})
	return n
}

// Shutdown 停止监听并关闭所有连接
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	if !s.Stop() {
		return nil
	}
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	closeAll(s.bridges)
	s.wc.Cancel()
	glog.Info("WebSocket服务器关闭", zap.String("addr", s.Addr()), zap.String("path", s.path))
	return err
}

// closeAll 先收集再关闭，关闭回调会修改 m
func closeAll(m *maputil.ConcurrentMap[uint64, *Bridge]) {
	var list []*Bridge
	m.Range(func(_ uint64, b *Bridge) bool {
		list = append(list, b)
		return true
	})
	for _, b := range list {
		_ = b.Close()
	}
}
