package component

import (
	"context"
	"errors"
	"testing"
)

type recorder struct {
	BaseComponent[*[]string]
	name    string
	failing bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Start(ctx context.Context, log *[]string) error {
	if r.failing {
		return errors.New("start failed")
	}
	*log = append(*log, "start:"+r.name)
	return nil
}

func TestManager_Order(t *testing.T) {
	var log []string
	m := NewManager[*[]string]()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recorder{name: name}); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
	}
	if err := m.Register(&recorder{name: "a"}); !errors.Is(err, ErrComponentAlreadyRegistered) {
		t.Errorf("重复注册应该失败，实际: %v", err)
	}
	if err := m.Init(&log); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background(), &log); err != nil {
		t.Fatal(err)
	}
	want := []string{"start:a", "start:b", "start:c"}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("启动顺序错误: %v", log)
		}
	}
	if err := m.Start(context.Background(), &log); !errors.Is(err, ErrManagerAlreadyStarted) {
		t.Errorf("重复启动应该失败，实际: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestManager_StartFailure(t *testing.T) {
	var log []string
	m := NewManager[*[]string]()
	_ = m.Register(&recorder{name: "a"})
	_ = m.Register(&recorder{name: "b", failing: true})
	if err := m.Start(context.Background(), &log); err == nil {
		t.Fatal("期望启动失败")
	}
	if err := m.Start(context.Background(), &log); !errors.Is(err, ErrManagerStoppedCannotRestart) {
		t.Errorf("失败后不能重启，实际: %v", err)
	}
}
