package actor

import (
	"sort"
	"sync"

	"github.com/dzm2020/mesh/internal/errs"
)

// registry 本地名字表，进程退出时自动清理
type registry struct {
	mu    sync.RWMutex
	names map[string]PID
	owned map[PID][]string
}

func newRegistry() *registry {
	return &registry{
		names: make(map[string]PID),
		owned: make(map[PID][]string),
	}
}

func (r *registry) register(name string, pid PID) error {
	if name == "" {
		return errs.ErrNameCannotBeEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return errs.ErrNameAlreadyRegistered
	}
	r.names[name] = pid
	r.owned[pid] = append(r.owned[pid], name)
	return nil
}

func (r *registry) whereis(name string) (PID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pid, ok := r.names[name]
	return pid, ok
}

func (r *registry) unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid, ok := r.names[name]
	if !ok {
		return false
	}
	delete(r.names, name)
	names := r.owned[pid]
	for i, n := range names {
		if n == name {
			names = append(names[:i], names[i+1:]...)
			break
		}
	}
	if len(names) == 0 {
		delete(r.owned, pid)
	} else {
		r.owned[pid] = names
	}
	return true
}

func (r *registry) removePID(pid PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range r.owned[pid] {
		delete(r.names, name)
	}
	delete(r.owned, pid)
}

func (r *registry) list() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
