package iface

import (
	"context"
)

// Handler 订阅回调，运行在消息队列客户端的投递协程中
type Handler func(data []byte)

// IMessageQue 集群消息总线
type IMessageQue interface {
	// Run 连接消息队列
	Run(ctx context.Context) error
	// Publish 向主题发布消息（无回复）
	Publish(subject string, data []byte) error
	// Subscribe 订阅主题，消息通过回调送达
	Subscribe(subject string, handler Handler) (ISubscription, error)
	// Shutdown 关闭连接
	Shutdown(ctx context.Context) error
}

// ISubscription 订阅关系，用于取消订阅
type ISubscription interface {
	Unsubscribe() error
}
