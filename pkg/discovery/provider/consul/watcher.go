package consul

import (
	"sync"
	"time"

	"github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// watcher 用阻塞查询监听一类服务的健康成员
type watcher struct {
	client    *api.Client
	config    *Config
	kind      string
	waitIndex uint64

	mu        sync.RWMutex
	list      []*iface.Member
	nextID    int
	listeners map[int]iface.Listener
}

func newWatcher(wc *workers.WaitContext, client *api.Client, kind string, config *Config) *watcher {
	w := &watcher{
		client:    client,
		config:    config,
		kind:      kind,
		listeners: make(map[int]iface.Listener),
	}
	workers.GoWith(wc, w.loop)
	return w
}

func (w *watcher) loop(ctx *workers.WaitContext) {
	for {
		select {
		case <-ctx.IsFinish():
			return
		default:
		}
		opts := (&api.QueryOptions{
			WaitIndex: w.waitIndex,
			WaitTime:  w.config.watchWaitTime(),
		}).WithContext(ctx.Context())
		members, index, err := fetchHealthy(w.client, w.kind, opts)
		if err != nil {
			glog.Debug("consul获取服务列表失败", zap.String("kind", w.kind), zap.Error(err))
			select {
			case <-ctx.IsFinish():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if index == w.waitIndex {
			continue
		}
		w.waitIndex = index
		w.update(members)
	}
}

func (w *watcher) update(members []*iface.Member) {
	w.mu.Lock()
	w.list = members
	listeners := make([]iface.Listener, 0, len(w.listeners))
	for _, l := range w.listeners {
		listeners = append(listeners, l)
	}
	w.mu.Unlock()
	for _, l := range listeners {
		workers.Try(func() { l(members) }, func(err interface{}) {
			glog.Error("服务发现回调 panic", zap.String("kind", w.kind), zap.Any("panic", err))
		})
	}
}

func (w *watcher) add(listener iface.Listener) func() {
	if listener == nil {
		return func() {}
	}
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = listener
	current := w.list
	w.mu.Unlock()
	if len(current) > 0 {
		listener(current)
	}
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *watcher) members() []*iface.Member {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.list
}

func fetchHealthy(client *api.Client, kind string, opts *api.QueryOptions) ([]*iface.Member, uint64, error) {
	entries, meta, err := client.Health().Service(kind, "", true, opts)
	if err != nil {
		return nil, 0, err
	}
	members := make([]*iface.Member, 0, len(entries))
	for _, entry := range entries {
		svc := entry.Service
		address := svc.Address
		if address == "" && entry.Node != nil {
			address = entry.Node.Address
		}
		members = append(members, &iface.Member{
			ID:      svc.ID,
			Kind:    svc.Service,
			Address: address,
			Port:    svc.Port,
			Tags:    svc.Tags,
			Meta:    svc.Meta,
		})
	}
	return members, meta.LastIndex, nil
}
