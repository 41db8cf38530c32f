package factory

import (
	"errors"
	"sort"
	"sync"
)

var ErrFactoryAlreadyExists = errors.New("factory already exists")

// Creator 由配置数据构造实例
type Creator[T any] func(args ...any) (T, error)

func New[T any]() *Manager[T] {
	return &Manager[T]{
		factories: make(map[string]Creator[T]),
	}
}

// Manager 按名字登记构造函数，provider 在 init 中注册自己
type Manager[T any] struct {
	mu        sync.RWMutex
	factories map[string]Creator[T]
}

func (f *Manager[T]) Register(name string, creator Creator[T]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.factories[name]; ok {
		return ErrFactoryAlreadyExists
	}
	f.factories[name] = creator
	return nil
}

func (f *Manager[T]) Unregister(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.factories, name)
}

func (f *Manager[T]) Get(name string) (Creator[T], bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	creator, ok := f.factories[name]
	return creator, ok
}

// List 已注册的工厂名，按字母序
func (f *Manager[T]) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.factories))
	for name := range f.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
