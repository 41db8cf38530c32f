package dist

import (
	"context"
	"sort"
	"strings"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/dzm2020/mesh/pkg/lib/serializer"
	"github.com/dzm2020/mesh/pkg/lib/workers"
	"github.com/dzm2020/mesh/pkg/lib/xerror"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RegistryStore 全局注册表的外部快照，只用于运维查看
// 节点重启时清掉自己旧实例留下的记录
type RegistryStore interface {
	Save(ctx context.Context, node, name string, pid actor.PID) error
	Delete(ctx context.Context, node, name string) error
	Purge(ctx context.Context, node string) error
	Load(ctx context.Context) ([]StoredName, error)
	Close() error
}

// StoredName 快照中的一条记录，PID 是注册节点上的本地 PID
type StoredName struct {
	Node string `msgpack:"node" json:"node"`
	Name string `msgpack:"name" json:"name"`
	PID  uint64 `msgpack:"pid" json:"pid"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"` // hash 键
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "127.0.0.1:6379",
		Key:  "mesh:global",
	}
}

// RedisStore 以 hash 保存，field 为 node|name，value 为 msgpack 编码的 StoredName
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(cfg *RedisConfig) *RedisStore {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	key := cfg.Key
	if key == "" {
		key = DefaultRedisConfig().Key
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: key,
	}
}

func storeField(node, name string) string {
	return node + "|" + name
}

// Ping 检查连接
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Save(ctx context.Context, node, name string, pid actor.PID) error {
	data, err := serializer.MsgPack.Marshal(&StoredName{Node: node, Name: name, PID: uint64(pid)})
	if err != nil {
		return xerror.Wrap(err, "marshal stored name")
	}
	return r.client.HSet(ctx, r.key, storeField(node, name), data).Err()
}

func (r *RedisStore) Delete(ctx context.Context, node, name string) error {
	return r.client.HDel(ctx, r.key, storeField(node, name)).Err()
}

func (r *RedisStore) Purge(ctx context.Context, node string) error {
	fields, err := r.client.HKeys(ctx, r.key).Result()
	if err != nil {
		return xerror.Wrapf(err, "hkeys %s", r.key)
	}
	prefix := node + "|"
	var stale []string
	for _, field := range fields {
		if strings.HasPrefix(field, prefix) {
			stale = append(stale, field)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return r.client.HDel(ctx, r.key, stale...).Err()
}

// Load 按节点名和注册名排序，解析失败的记录跳过
func (r *RedisStore) Load(ctx context.Context) ([]StoredName, error) {
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, xerror.Wrapf(err, "hgetall %s", r.key)
	}
	list := make([]StoredName, 0, len(all))
	for field, value := range all {
		var item StoredName
		if err = serializer.MsgPack.Unmarshal([]byte(value), &item); err != nil {
			glog.Warn("全局注册表快照记录损坏", zap.String("field", field), zap.Error(err))
			continue
		}
		list = append(list, item)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Node != list[j].Node {
			return list[i].Node < list[j].Node
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// StoredNames 读取外部快照，未配置时返回 nil
func (n *Node) StoredNames(ctx context.Context) ([]StoredName, error) {
	if n.store == nil {
		return nil, nil
	}
	return n.store.Load(ctx)
}

// storeAsync 快照写入不阻塞注册路径，失败只记日志
func (n *Node) storeAsync(fn func(ctx context.Context, store RegistryStore) error) {
	store := n.store
	if store == nil {
		return
	}
	workers.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.writeTimeout()+n.cfg.connectTimeout())
		defer cancel()
		if err := fn(ctx, store); err != nil {
			glog.Warn("全局注册表快照写入失败", zap.String("node", n.name), zap.Error(err))
		}
	}, nil)
}
