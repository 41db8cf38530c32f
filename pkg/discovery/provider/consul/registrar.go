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

// registrar 注册成员并用 TTL 检查保持存活
type registrar struct {
	wc     *workers.WaitContext
	client *api.Client
	config *Config

	mu      sync.Mutex
	keepers map[string]*workers.WaitContext
}

func newRegistrar(wc *workers.WaitContext, client *api.Client, config *Config) *registrar {
	return &registrar{
		wc:      wc,
		client:  client,
		config:  config,
		keepers: make(map[string]*workers.WaitContext),
	}
}

func (r *registrar) add(member *iface.Member) error {
	registration := &api.AgentServiceRegistration{
		ID:      member.ID,
		Name:    member.Kind,
		Address: member.Address,
		Port:    member.Port,
		Tags:    member.Tags,
		Meta:    member.Meta,
		Check: &api.AgentServiceCheck{
			CheckID:                        checkID(member.ID),
			TTL:                            r.config.healthTTL().String(),
			DeregisterCriticalServiceAfter: r.config.deregisterInterval().String(),
		},
	}
	if err := r.client.Agent().ServiceRegister(registration); err != nil {
		glog.Error("consul registrar: 注册失败", zap.String("id", member.ID), zap.String("kind", member.Kind), zap.Error(err))
		return err
	}

	r.mu.Lock()
	if _, ok := r.keepers[member.ID]; ok {
		r.mu.Unlock()
		return nil
	}
	keeper := workers.WithWaitContext(r.wc)
	r.keepers[member.ID] = keeper
	r.mu.Unlock()

	workers.GoWith(keeper, func(ctx *workers.WaitContext) {
		r.keepAlive(ctx, member.ID)
	})
	glog.Info("consul registrar: 注册成功", zap.String("id", member.ID), zap.String("kind", member.Kind))
	return nil
}

func (r *registrar) keepAlive(ctx *workers.WaitContext, id string) {
	interval := r.config.healthTTL() / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.pass(id)
	for {
		select {
		case <-ctx.IsFinish():
			return
		case <-ticker.C:
			r.pass(id)
		}
	}
}

func (r *registrar) pass(id string) {
	if err := r.client.Agent().UpdateTTL(checkID(id), "", api.HealthPassing); err != nil {
		glog.Warn("consul registrar: 更新TTL失败", zap.String("id", id), zap.Error(err))
	}
}

func (r *registrar) remove(id string) error {
	r.mu.Lock()
	keeper, ok := r.keepers[id]
	delete(r.keepers, id)
	r.mu.Unlock()
	if ok {
		keeper.Cancel()
		keeper.Wait()
	}
	if err := r.client.Agent().ServiceDeregister(id); err != nil {
		glog.Error("consul registrar: 注销失败", zap.String("id", id), zap.Error(err))
		return err
	}
	glog.Info("consul registrar: 注销成功", zap.String("id", id))
	return nil
}

func (r *registrar) shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.keepers))
	for id := range r.keepers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.remove(id)
	}
}

func checkID(id string) string {
	return "service:" + id
}
