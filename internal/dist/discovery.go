package dist

import (
	"github.com/dzm2020/mesh/internal/errs"
	discoveryiface "github.com/dzm2020/mesh/pkg/discovery/iface"
	"github.com/dzm2020/mesh/pkg/glog"
	"go.uber.org/zap"
)

// metaNodeName 服务发现成员中保存完整节点名的 meta 键
const metaNodeName = "node"

// JoinDiscovery 把本节点注册到服务发现，并连接同类的其他节点
// 必须在 Start 之后调用，注册使用实际监听端口
func (n *Node) JoinDiscovery(d discoveryiface.IDiscovery) error {
	if !n.started.Load() {
		return errs.ErrDistNotStarted
	}
	_, host, port, err := ParseNodeName(n.name)
	if err != nil {
		return err
	}
	member := &discoveryiface.Member{
		ID:      n.name,
		Kind:    n.cfg.DiscoveryKind,
		Address: host,
		Port:    port,
		Meta:    map[string]string{metaNodeName: n.name},
	}
	if err = d.Register(member); err != nil {
		return err
	}
	unwatch := d.Watch(n.cfg.DiscoveryKind, n.onMembers)

	n.mu.Lock()
	n.discovery = d
	n.unwatch = unwatch
	n.mu.Unlock()
	glog.Info("节点加入服务发现", zap.String("node", n.name), zap.String("kind", n.cfg.DiscoveryKind))
	return nil
}

func (n *Node) onMembers(members []*discoveryiface.Member) {
	if n.IsStop() {
		return
	}
	for _, m := range members {
		name := m.Meta[metaNodeName]
		if name == "" {
			name = m.ID
		}
		if name == n.name || n.sessionByName(name) != nil {
			continue
		}
		if _, _, _, err := ParseNodeName(name); err != nil {
			glog.Debug("忽略无法识别的服务发现成员", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		n.connectAsync(name)
	}
}

// leaveDiscovery 在 Close 中调用
func (n *Node) leaveDiscovery() {
	n.mu.Lock()
	d, unwatch := n.discovery, n.unwatch
	n.discovery, n.unwatch = nil, nil
	n.mu.Unlock()
	if d == nil {
		return
	}
	if unwatch != nil {
		unwatch()
	}
	if err := d.Deregister(n.name); err != nil {
		glog.Warn("服务发现注销失败", zap.String("node", n.name), zap.Error(err))
	}
}
