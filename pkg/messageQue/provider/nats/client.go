package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/dzm2020/mesh/pkg/messageQue"
	"github.com/dzm2020/mesh/pkg/messageQue/iface"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func init() {
	_ = messageQue.Register("nats", func(data json.RawMessage) (iface.IMessageQue, error) {
		cfg := DefaultConfig()
		if len(data) > 0 {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}

var errNotConnected = errors.New("nats: not connected")

var _ iface.IMessageQue = (*Client)(nil)

func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{cfg: cfg}
}

type Client struct {
	cfg  *Config
	conn *nats.Conn
}

func (n *Client) Run(ctx context.Context) (err error) {
	opts := append(toOptions(n.cfg),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			glog.Warn("nats连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			glog.Info("nats重新连接", zap.String("url", c.ConnectedUrl()))
		}),
	)
	n.conn, err = nats.Connect(strings.Join(n.cfg.Servers, ","), opts...)
	if err != nil {
		return xerror.Wrapf(err, "servers:%v", n.cfg.Servers)
	}
	return nil
}

func (n *Client) Publish(subject string, data []byte) error {
	if n.conn == nil {
		return errNotConnected
	}
	return xerror.Wrapf(n.conn.Publish(subject, data), "subject:%s", subject)
}

func (n *Client) Subscribe(subject string, handler iface.Handler) (iface.ISubscription, error) {
	if n.conn == nil {
		return nil, errNotConnected
	}
	sub, err := n.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, xerror.Wrapf(err, "subject:%s", subject)
	}
	return sub, nil
}

func (n *Client) Shutdown(ctx context.Context) error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
