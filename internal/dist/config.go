package dist

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dzm2020/mesh/internal/errs"
)

const (
	// DefaultPort 节点名不带端口时使用
	DefaultPort = 9000
	// missedHeartbeats 连续这么多个周期收不到数据就断开
	missedHeartbeats = 3
)

// 广播方式
const (
	BroadcastSessions = "sessions"
	BroadcastNats     = "nats"
)

// Config 节点配置
type Config struct {
	Name             string   `json:"name"`             // name@host:port，端口为 0 时监听后改为实际端口
	Cookie           string   `json:"cookie"`           // 握手共享密钥
	Listen           string   `json:"listen"`           // 监听地址，为空时使用 name 中的 host:port
	HeartbeatMs      int      `json:"heartbeatMs"`      // 心跳间隔（毫秒），0 关闭
	ConnectTimeoutMs int      `json:"connectTimeoutMs"` // 拨号和握手超时（毫秒）
	WriteTimeoutMs   int      `json:"writeTimeoutMs"`   // 单帧写超时（毫秒）
	Peers            []string `json:"peers"`            // 启动后主动连接的节点
	Broadcast        string   `json:"broadcast"`        // sessions 或 nats
	BroadcastSubject string   `json:"broadcastSubject"` // nats 广播主题
	DiscoveryKind    string   `json:"discoveryKind"`    // 服务发现中的服务名
}

func DefaultConfig() *Config {
	return &Config{
		Name:             "mesh@127.0.0.1:9000",
		Cookie:           "mesh",
		HeartbeatMs:      5000,
		ConnectTimeoutMs: 3000,
		WriteTimeoutMs:   5000,
		Broadcast:        BroadcastSessions,
		BroadcastSubject: "mesh.broadcast",
		DiscoveryKind:    "mesh-node",
	}
}

func (c *Config) heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMs) * time.Millisecond
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) writeTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

// ParseNodeName 拆分 name@host:port，没有端口时使用 DefaultPort
func ParseNodeName(name string) (short, host string, port int, err error) {
	short, hostPort, ok := strings.Cut(name, "@")
	if !ok {
		return "", "", 0, errs.ErrInvalidNodeName(name, "missing '@' separator")
	}
	if short == "" {
		return "", "", 0, errs.ErrInvalidNodeName(name, "empty name part")
	}
	if hostPort == "" {
		return "", "", 0, errs.ErrInvalidNodeName(name, "empty host part")
	}
	i := strings.LastIndexByte(hostPort, ':')
	if i < 0 {
		return short, hostPort, DefaultPort, nil
	}
	host = strings.TrimSuffix(strings.TrimPrefix(hostPort[:i], "["), "]")
	if host == "" {
		return "", "", 0, errs.ErrInvalidNodeName(name, "empty host part")
	}
	port, err = strconv.Atoi(hostPort[i+1:])
	if err != nil || port < 0 || port > 65535 {
		return "", "", 0, errs.ErrInvalidNodeName(name, "invalid port '"+hostPort[i+1:]+"'")
	}
	return short, host, port, nil
}

func nodeAddr(name string) (string, error) {
	_, host, port, err := ParseNodeName(name)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
