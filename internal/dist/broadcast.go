package dist

import (
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/serializer"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"go.uber.org/zap"
)

// BroadcastHandler 处理某个主题的集群广播，在会话读协程或消息队列回调中调用，不能阻塞
type BroadcastHandler func(payload []byte)

// broadcastEnvelope 走消息队列时的信封，Origin 用来过滤自己发出的广播
type broadcastEnvelope struct {
	Origin  string `msgpack:"origin"`
	Topic   string `msgpack:"topic"`
	Payload []byte `msgpack:"payload"`
}

// HandleBroadcast 注册主题处理函数，h 为 nil 时注销
func (n *Node) HandleBroadcast(topic string, h BroadcastHandler) {
	if h == nil {
		n.topics.Delete(topic)
		return
	}
	n.topics.Set(topic, h)
}

// Broadcast 先在本节点投递，再发给其他节点
// 配置了消息队列时整个集群共用一个主题，否则逐个会话发送
func (n *Node) Broadcast(topic string, payload []byte) error {
	if topic == "" {
		return errs.ErrNameCannotBeEmpty
	}
	n.deliverBroadcast(topic, payload)
	if n.useMessageQue() {
		data, err := serializer.MsgPack.Marshal(&broadcastEnvelope{Origin: n.name, Topic: topic, Payload: payload})
		if err != nil {
			return xerror.Wrap(err, "marshal broadcast")
		}
		return n.mq.Publish(n.cfg.BroadcastSubject, data)
	}
	n.broadcastFrame(OpBroadcast, newEncoder(2+len(topic)+len(payload)).str(topic).raw(payload).bytesOut())
	return nil
}

func (n *Node) useMessageQue() bool {
	return n.mq != nil && n.cfg.Broadcast == BroadcastNats
}

func (n *Node) deliverBroadcast(topic string, payload []byte) {
	h, ok := n.topics.Get(topic)
	if !ok {
		return
	}
	workers.Try(func() {
		h(payload)
	}, func(r interface{}) {
		glog.Error("广播处理 panic", zap.String("topic", topic), zap.Any("panic", r))
	})
}

// handleBroadcast 只在本节点投递，不再转发
func (n *Node) handleBroadcast(s *session, d *decoder) error {
	topic := d.str()
	payload := d.rest()
	if d.err != nil {
		return errs.ErrBadFrame(OpBroadcast, d.err)
	}
	n.deliverBroadcast(topic, payload)
	return nil
}

func (n *Node) subscribeBroadcast() error {
	if !n.useMessageQue() {
		return nil
	}
	sub, err := n.mq.Subscribe(n.cfg.BroadcastSubject, func(data []byte) {
		var env broadcastEnvelope
		if err := serializer.MsgPack.Unmarshal(data, &env); err != nil {
			glog.Warn("广播信封解析失败", zap.Error(err))
			return
		}
		if env.Origin == n.name {
			return
		}
		n.deliverBroadcast(env.Topic, env.Payload)
	})
	if err != nil {
		return xerror.Wrapf(err, "subscribe %s", n.cfg.BroadcastSubject)
	}
	n.mqSub = sub
	return nil
}
