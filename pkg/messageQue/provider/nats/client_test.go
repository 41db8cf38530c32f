package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dzm2020/mesh/pkg/messageQue"
)

func TestFactory(t *testing.T) {
	mq, err := messageQue.NewFromConfig(messageQue.Config{
		Type:   "nats",
		Config: json.RawMessage(`{"servers":["nats://127.0.0.1:14222"],"name":"t"}`),
	})
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	c := mq.(*Client)
	if c.cfg.Name != "t" || !c.cfg.NoEcho {
		t.Errorf("配置未合并默认值: %+v", c.cfg)
	}
	if c.Publish("x", nil) == nil {
		t.Error("未连接时发布应失败")
	}
	if _, err = messageQue.NewFromConfig(messageQue.Config{Type: "nats", Config: json.RawMessage(`{"servers":[]}`)}); err == nil {
		t.Error("空服务器列表应校验失败")
	}
	bad := `{"servers":["nats://127.0.0.1:14222"],"maxReconnects":-2}`
	if _, err = messageQue.NewFromConfig(messageQue.Config{Type: "nats", Config: json.RawMessage(bad)}); err == nil {
		t.Error("maxReconnects 小于 -1 应校验失败")
	}
	if opts := toOptions(&Config{MaxReconnects: 0}); len(opts) != 1 {
		t.Errorf("最小配置只应带重连次数，实际 %d 项", len(opts))
	}
}

// TestPublishSubscribe 需要本地 nats，连不上时跳过
func TestPublishSubscribe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoEcho = false
	cfg.TimeoutMs = 500
	cfg.MaxReconnects = 0
	client := New(cfg)
	if err := client.Run(context.Background()); err != nil {
		t.Skipf("nats 不可用: %v", err)
	}
	defer client.Shutdown(context.Background())

	got := make(chan []byte, 1)
	sub, err := client.Subscribe("mesh.test", func(data []byte) {
		got <- data
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err = client.Publish("mesh.test", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case data := <-got:
		if string(data) != "hello" {
			t.Errorf("收到 %q", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("没有收到消息")
	}
}
