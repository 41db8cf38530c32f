package component

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"go.uber.org/zap"
)

var (
	ErrComponentCannotBeNil                = errors.New("组件不能为空")
	ErrComponentNameCannotBeEmpty          = errors.New("组件名字不能空")
	ErrCannotRegisterComponentAfterStarted = errors.New("组件启动后无法注册组件")
	ErrComponentAlreadyRegistered          = errors.New("组件已注册")
	ErrManagerAlreadyStarted               = errors.New("管理器已启动")
	ErrManagerStoppedCannotRestart         = errors.New("管理器已停止，无法重启")
)

// Manager 按注册顺序初始化、启动组件，按逆序停止
type Manager[T any] struct {
	components *maputil.ConcurrentMap[string, IComponent[T]]
	order      []string
	orderMu    sync.RWMutex
	started    atomic.Bool
	stopped    atomic.Bool
	stopOnce   sync.Once
}

func NewManager[T any]() *Manager[T] {
	return &Manager[T]{
		components: maputil.NewConcurrentMap[string, IComponent[T]](8),
	}
}

func (cm *Manager[T]) Register(component IComponent[T]) error {
	if cm.started.Load() {
		return ErrCannotRegisterComponentAfterStarted
	}
	if component == nil {
		return ErrComponentCannotBeNil
	}
	if component.Name() == "" {
		return ErrComponentNameCannotBeEmpty
	}
	cm.orderMu.Lock()
	defer cm.orderMu.Unlock()
	if _, ok := cm.components.GetOrSet(component.Name(), component); ok {
		return ErrComponentAlreadyRegistered
	}
	cm.order = append(cm.order, component.Name())
	return nil
}

func (cm *Manager[T]) Get(name string) IComponent[T] {
	c, _ := cm.components.Get(name)
	return c
}

func (cm *Manager[T]) Names() []string {
	cm.orderMu.RLock()
	defer cm.orderMu.RUnlock()
	return append([]string(nil), cm.order...)
}

func (cm *Manager[T]) ordered(reverse bool) []IComponent[T] {
	names := cm.Names()
	list := make([]IComponent[T], 0, len(names))
	for i := range names {
		name := names[i]
		if reverse {
			name = names[len(names)-1-i]
		}
		if c, ok := cm.components.Get(name); ok {
			list = append(list, c)
		}
	}
	return list
}

func (cm *Manager[T]) Init(t T) error {
	if cm.started.Load() {
		return ErrManagerAlreadyStarted
	}
	for _, c := range cm.ordered(false) {
		if err := c.Init(t); err != nil {
			return xerror.Wrapf(err, "组件 %s 初始化失败", c.Name())
		}
	}
	return nil
}

// Start 依次启动组件，某个组件失败时逆序停止已启动的组件
func (cm *Manager[T]) Start(ctx context.Context, t T) error {
	if cm.stopped.Load() {
		return ErrManagerStoppedCannotRestart
	}
	if !cm.started.CompareAndSwap(false, true) {
		return ErrManagerAlreadyStarted
	}
	var started []IComponent[T]
	for _, c := range cm.ordered(false) {
		if err := c.Start(ctx, t); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			cm.stopped.Store(true)
			return xerror.Wrapf(err, "组件 %s 启动失败", c.Name())
		}
		glog.Debug("组件启动", zap.String("component", c.Name()))
		started = append(started, c)
	}
	return nil
}

func (cm *Manager[T]) Stop(ctx context.Context) error {
	var lastErr error
	cm.stopOnce.Do(func() {
		if !cm.started.Load() || cm.stopped.Load() {
			return
		}
		cm.stopped.Store(true)
		for _, c := range cm.ordered(true) {
			if err := c.Stop(ctx); err != nil {
				glog.Warn("组件停止失败", zap.String("component", c.Name()), zap.Error(err))
				lastErr = err
			}
		}
	})
	return lastErr
}

func (cm *Manager[T]) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return cm.Stop(ctx)
}
