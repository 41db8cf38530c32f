// Package config 节点配置，支持 json 和 yaml，环境变量 MESH_ 前缀可以覆盖文件中的值
package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/bridge"
	"github.com/dzm2020/mesh/internal/dist"
	"github.com/dzm2020/mesh/internal/errs"
	"github.com/dzm2020/mesh/internal/supervisor"
	"github.com/dzm2020/mesh/pkg/discovery"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/serializer"
	"github.com/dzm2020/mesh/pkg/messageQue"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，MESH_NODE_COOKIE 覆盖 node.cookie
const EnvPrefix = "MESH"

// StoreRedis 全局注册表快照存到 redis
const StoreRedis = "redis"

// Config 节点配置
type Config struct {
	Node       NodeConfig       `json:"node"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Glog       glog.Config      `json:"glog"`
	Cluster    ClusterConfig    `json:"cluster"`
	Bridge     bridge.Config    `json:"bridge"`
}

// NodeConfig 分布式层配置，creation 为 0 时启动时推导
type NodeConfig struct {
	dist.Config
	Creation uint8 `json:"creation"`
}

type SchedulerConfig struct {
	Workers         int `json:"workers"`         // 0 表示 CPU 核数
	ReductionBudget int `json:"reductionBudget"` // 每次调度的 reduction 数量
	GCThreshold     int `json:"gcThreshold"`     // 进程堆触发回收的字节数
}

type SupervisorConfig struct {
	ShutdownTimeoutMs int `json:"shutdownTimeoutMs"` // 子进程默认关闭超时（毫秒）
}

// ClusterConfig type 为空表示不启用
type ClusterConfig struct {
	Discovery     discovery.Config  `json:"discovery"`
	MessageQueue  messageQue.Config `json:"messageQueue"`
	RegistryStore StoreConfig       `json:"registryStore"`
}

type StoreConfig struct {
	Type  string           `json:"type"`
	Redis dist.RedisConfig `json:"redis"`
}

// Default 单节点可直接运行的配置
func Default() *Config {
	return &Config{
		Node: NodeConfig{Config: *dist.DefaultConfig()},
		Scheduler: SchedulerConfig{
			ReductionBudget: actor.DefaultReductionBudget,
			GCThreshold:     actor.DefaultGCThreshold,
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeoutMs: int(supervisor.DefaultShutdownTimeout.Milliseconds()),
		},
		Glog: *glog.DefaultConfig(),
		Cluster: ClusterConfig{
			RegistryStore: StoreConfig{Redis: *dist.DefaultRedisConfig()},
		},
		Bridge: *bridge.DefaultConfig(),
	}
}

// Load 按扩展名读取配置文件，缺省的字段使用 Default 的值
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		vp.SetConfigType("yaml")
	default:
		vp.SetConfigType("json")
	}
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	if err := vp.ReadInConfig(); err != nil {
		return nil, errs.ErrReadConfigFileFailed(err)
	}
	return decode(vp.AllSettings())
}

// Parse 从内存中解析，format 为 json 或 yaml
func Parse(data []byte, format string) (*Config, error) {
	vp := viper.New()
	vp.SetConfigType(format)
	if err := vp.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errs.ErrUnmarshalConfigFailed(err)
	}
	return decode(vp.AllSettings())
}

// decode viper 会把键转为小写，json 解码按大小写不敏感匹配字段
func decode(settings map[string]interface{}) (*Config, error) {
	data, err := serializer.Json.Marshal(settings)
	if err != nil {
		return nil, errs.ErrUnmarshalConfigFailed(err)
	}
	cfg := Default()
	if err = serializer.Json.Unmarshal(data, cfg); err != nil {
		return nil, errs.ErrUnmarshalConfigFailed(err)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, _, err := dist.ParseNodeName(c.Node.Name); err != nil {
		return err
	}
	if c.Node.Cookie == "" {
		return errs.ErrInvalidConfig("node.cookie", "cannot be empty")
	}
	switch c.Node.Broadcast {
	case "", dist.BroadcastSessions:
	case dist.BroadcastNats:
		if c.Cluster.MessageQueue.Type == "" {
			return errs.ErrInvalidConfig("node.broadcast", "nats broadcast requires cluster.messageQueue")
		}
	default:
		return errs.ErrInvalidConfig("node.broadcast", "unknown transport '"+c.Node.Broadcast+"'")
	}
	if c.Scheduler.Workers < 0 {
		return errs.ErrInvalidConfig("scheduler.workers", "cannot be negative")
	}
	if t := c.Cluster.RegistryStore.Type; t != "" && t != StoreRedis {
		return errs.ErrInvalidConfig("cluster.registryStore.type", "unknown store '"+t+"'")
	}
	return nil
}

// Encode 按 format 输出，yaml 的键名与 json 一致
func (c *Config) Encode(format string) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	if format != "yaml" && format != "yml" {
		return data, nil
	}
	var tree map[string]interface{}
	if err = json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return yaml.Marshal(tree)
}
