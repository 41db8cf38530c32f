package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/errs"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestConfigRecord(t *testing.T) {
	cfg := Config{
		Strategy:    RestForOne,
		MaxRestarts: 3,
		MaxSeconds:  10,
		Children: []ChildSpec{
			{ID: "local", Restart: Transient, Shutdown: WithTimeout(2 * time.Second), Args: []byte{1, 2}, StartFuncName: "worker"},
			{ID: "remote", Restart: Permanent, Shutdown: Kill(), Type: SupervisorChild, TargetNode: "b@127.0.0.1:9001", StartFuncName: "worker"},
		},
	}
	resolved := 0
	got, err := DecodeConfig(EncodeConfig(&cfg), func(name string) (actor.EntryFunc, bool) {
		resolved++
		return func(*actor.Context, []byte) {}, name == "worker"
	})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if got.Strategy != RestForOne || got.MaxRestarts != 3 || len(got.Children) != 2 {
		t.Fatalf("配置字段错误: %+v", got)
	}
	local, remote := got.Children[0], got.Children[1]
	if local.Start == nil || local.IsRemote() || local.Shutdown.Timeout != 2*time.Second {
		t.Errorf("本地子进程解析错误: %+v", local)
	}
	if remote.TargetNode != "b@127.0.0.1:9001" || remote.Start != nil || remote.Shutdown.Kind != BrutalKill {
		t.Errorf("远程子进程解析错误: %+v", remote)
	}
	if resolved != 1 {
		t.Errorf("只有本地子进程需要解析入口: %d", resolved)
	}
}

func TestChildSpecRecord_LegacyWithoutOptionalFields(t *testing.T) {
	// 不带可选字段的旧记录
	b := protowire.AppendString(nil, "old")
	b = protowire.AppendVarint(b, uint64(Permanent))
	b = protowire.AppendVarint(b, uint64(ShutdownTimeout))
	b = protowire.AppendVarint(b, 5000)
	b = protowire.AppendVarint(b, uint64(Worker))
	b = protowire.AppendBytes(b, nil)

	spec, err := DecodeChildSpec(b, nil)
	if err != nil {
		t.Fatalf("旧记录应可解析: %v", err)
	}
	if spec.IsRemote() || spec.StartFuncName != "" || spec.Shutdown.Timeout != 5*time.Second {
		t.Errorf("旧记录应按本地子进程处理: %+v", spec)
	}
}

func TestChildSpecRecord_Truncated(t *testing.T) {
	b := EncodeChildSpec(&ChildSpec{ID: "x", TargetNode: "n@h:1"})
	if _, err := DecodeChildSpec(b[:len(b)-2], nil); !errors.Is(err, errs.ErrBadRecord) {
		t.Errorf("截断的记录应报错: %v", err)
	}
}
