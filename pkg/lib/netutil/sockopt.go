// Package netutil 节点间 TCP 连接的 socket 选项
package netutil

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/dzm2020/mesh/pkg/lib/xerror"
)

// ListenConfig 监听前设置的 socket 选项
type ListenConfig struct {
	ReuseAddr bool
	ReusePort bool // 仅 Linux 生效
}

// NewListenConfig 默认只开启 SO_REUSEADDR，节点重启时可以立即复用端口
func NewListenConfig() *ListenConfig {
	return &ListenConfig{ReuseAddr: true}
}

func (lc *ListenConfig) control(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if lc.ReuseAddr {
			if opErr = setSockOptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); opErr != nil {
				return
			}
		}
		if lc.ReusePort {
			opErr = setReusePort(fd)
		}
	})
	if err != nil {
		return err
	}
	return xerror.Wrap(opErr, "set listen sockopt")
}

func (lc *ListenConfig) Listen(ctx context.Context, network, address string) (net.Listener, error) {
	cfg := net.ListenConfig{Control: lc.control}
	return cfg.Listen(ctx, network, address)
}

// Dial 拨号并按节点会话的要求调整连接
func Dial(ctx context.Context, address string, timeout, keepAlive time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: -1}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if err = TuneConn(conn, keepAlive); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// TuneConn 关闭 Nagle，keepAlive 大于 0 时开启 TCP 保活
// 非 TCP 连接（测试里的 net.Pipe）直接忽略
func TuneConn(conn net.Conn, keepAlive time.Duration) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return xerror.Wrap(err, "set nodelay")
	}
	if keepAlive <= 0 {
		return nil
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return xerror.Wrap(err, "set keepalive")
	}
	return xerror.Wrap(tc.SetKeepAlivePeriod(keepAlive), "set keepalive period")
}
