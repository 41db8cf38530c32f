package component

import (
	"context"
)

// IComponent 可被 Manager 管理生命周期的组件，T 为宿主类型
type IComponent[T any] interface {
	Name() string
	Init(t T) error
	Start(ctx context.Context, t T) error
	Stop(ctx context.Context) error
}

// BaseComponent 提供空实现，嵌入后只需覆盖关心的方法
type BaseComponent[T any] struct{}

func (*BaseComponent[T]) Init(t T) error                      { return nil }
func (*BaseComponent[T]) Start(ctx context.Context, t T) error { return nil }
func (*BaseComponent[T]) Stop(ctx context.Context) error       { return nil }
