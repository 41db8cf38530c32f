package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/stopper"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

// gnetWriter gnet 连接的写端，AsyncWrite 和 Close 可以在事件循环之外调用
type gnetWriter struct {
	conn   gnet.Conn
	remote string
	limit  int
	closed atomic.Bool
}

func (w *gnetWriter) Write(_ Kind, data []byte) error {
	if w.closed.Load() {
		return errs.ErrBridgeClosed
	}
	if len(data) > w.limit {
		return errs.ErrBridgeFrameTooLarge
	}
	return w.conn.AsyncWrite(encodeFrame(data), nil)
}

func (w *gnetWriter) Close(error) error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.conn.Close()
}

func (w *gnetWriter) RemoteAddr() string {
	return w.remote
}

// TCPServer gnet 事件循环作为读端，按长度前缀分帧后直接投递到所属进程
type TCPServer struct {
	gnet.BuiltinEventEngine
	stopper.Stopper
	sched     *actor.Scheduler
	addr      string
	multicore bool
	options   []Option
	opts      *Options
	accept    Acceptor
	eng       gnet.Engine
	booted    chan struct{}
	bridges   *maputil.ConcurrentMap[uint64, *Bridge]
	wc        *workers.WaitContext
}

func NewTCPServer(sched *actor.Scheduler, addr string, multicore bool, options ...Option) *TCPServer {
	return &TCPServer{
		sched:     sched,
		addr:      addr,
		multicore: multicore,
		options:   options,
		opts:      loadOptions(options...),
		booted:    make(chan struct{}),
		bridges:   maputil.NewConcurrentMap[uint64, *Bridge](16),
		wc:        workers.WithWaitContext(nil),
	}
}

func (s *TCPServer) Addr() string {
	return s.addr
}

// Start 等待事件循环启动完成后返回
func (s *TCPServer) Start(accept Acceptor) error {
	s.accept = accept
	errCh := make(chan error, 1)
	workers.GoWith(s.wc, func(*workers.WaitContext) {
		errCh <- gnet.Run(s, "tcp://"+s.addr,
			gnet.WithMulticore(s.multicore),
			gnet.WithTCPKeepAlive(time.Minute),
			gnet.WithLogger(glog.Named("gnet").Sugar()),
		)
	})
	select {
	case <-s.booted:
		glog.Info("TCP监听", zap.String("addr", s.addr), zap.Bool("multicore", s.multicore))
		return nil
	case err := <-errCh:
		return xerror.Wrapf(err, "tcp listen %s", s.addr)
	case <-time.After(5 * time.Second):
		return xerror.Wrapf(errs.ErrWaiterTimeout, "tcp listen %s", s.addr)
	}
}

// Serve 阻塞直到 ctx 结束
func (s *TCPServer) Serve(ctx context.Context, accept Acceptor) error {
	if err := s.Start(accept); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *TCPServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.eng = eng
	close(s.booted)
	return gnet.None
}

func (s *TCPServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	if s.IsStop() {
		return nil, gnet.Close
	}
	w := &gnetWriter{conn: c, remote: c.RemoteAddr().String(), limit: s.opts.MaxFrameSize}
	b := newBridge(s.sched, w, s.opts)
	owner, err := s.accept(b)
	if err != nil {
		glog.Warn("TCP连接被拒绝", zap.String("remote", w.remote), zap.Error(err))
		w.closed.Store(true)
		return nil, gnet.Close
	}
	c.SetContext(b)
	if err = b.attach(owner); err != nil {
		return nil, gnet.Close
	}
	s.bridges.Set(b.ID(), b)
	b.OnClose(func(b *Bridge) {
		s.bridges.Delete(b.ID())
	})
	return nil, gnet.None
}

func (s *TCPServer) OnTraffic(c gnet.Conn) gnet.Action {
	b, ok := c.Context().(*Bridge)
	if !ok || b.IsStop() {
		return gnet.Close
	}
	buf, err := c.Peek(c.InboundBuffered())
	if err != nil {
		return gnet.Close
	}
	consumed := 0
	for {
		data, n, err := decodeFrame(buf[consumed:], s.opts.MaxFrameSize)
		if err != nil {
			glog.Warn("TCP帧错误", zap.Uint64("bridge", b.ID()), zap.Error(err))
			return gnet.Close
		}
		if n == 0 {
			break
		}
		consumed += n
		if err = b.deliver(Binary, data); err != nil {
			return gnet.Close
		}
	}
	_, _ = c.Discard(consumed)
	return gnet.None
}

func (s *TCPServer) OnClose(c gnet.Conn, err error) gnet.Action {
	b, ok := c.Context().(*Bridge)
	if !ok {
		return gnet.None
	}
	if w, ok := b.w.(*gnetWriter); ok {
		w.closed.Store(true)
	}
	glog.Debug("bridge 事件循环连接关闭", zap.Uint64("bridge", b.ID()), zap.String("remote", b.RemoteAddr()), zap.Error(err))
	b.closeWith(err)
	return gnet.None
}

// Count 当前连接数
func (s *TCPServer) Count() int {
	n := 0
	s.bridges.Range(func(uint64, *Bridge) bool {
		n++
		return true
	})
	return n
}

func (s *TCPServer) Shutdown(ctx context.Context) error {
	if !s.Stop() {
		return nil
	}
	closeAll(s.bridges)
	var err error
	select {
	case <-s.booted:
		err = s.eng.Stop(ctx)
	default:
	}
	s.wc.Cancel()
	glog.Info("TCP服务器关闭", zap.String("addr", s.addr), zap.Error(err))
	return err
}
