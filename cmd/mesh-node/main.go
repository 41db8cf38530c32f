package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dzm2020/mesh"
	"github.com/dzm2020/mesh/internal/actor"
	"github.com/dzm2020/mesh/internal/bridge"
	"github.com/dzm2020/mesh/internal/config"
	"github.com/dzm2020/mesh/internal/node"
	"github.com/dzm2020/mesh/internal/supervisor"
	"github.com/dzm2020/mesh/pkg/glog"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// lobby 所有桥接连接默认加入的房间
const lobby = "lobby"

func main() {
	path := pflag.StringP("config", "c", "", "配置文件路径（.json/.yaml）")
	printFormat := pflag.String("print-config", "", "输出最终配置（json|yaml）后退出")
	pflag.Parse()

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *printFormat != "" {
		data, err := cfg.Encode(*printFormat)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(data)
		return
	}

	mesh.InitWithConfig(cfg,
		node.WithFunc("echo", echo),
		node.WithChildren(supervisor.OneForOne, 3, 5, supervisor.ChildSpec{
			ID:      "echo",
			Start:   echo,
			Restart: supervisor.Permanent,
		}),
		node.WithAcceptor(accept),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := mesh.Run(ctx); err != nil {
		glog.Error("节点退出", zap.Error(err))
		glog.Stop()
		os.Exit(1)
	}
}

// echo 把收到的消息原样发回，第一个实例注册为 echo
func echo(ctx *actor.Context, _ []byte) {
	_ = ctx.Register("echo")
	for {
		msg := ctx.Receive(actor.Infinity)
		if msg.From != 0 {
			_ = ctx.Send(msg.From, msg.Tag, msg.Payload)
		}
	}
}

// accept 每个连接一个会话进程，文本消息转发给大厅里的其他连接
func accept(b *bridge.Bridge) (actor.PID, error) {
	n := mesh.Node()
	return n.Scheduler().Spawn(func(ctx *actor.Context, _ []byte) {
		for {
			msg := ctx.Receive(actor.Infinity)
			switch msg.Tag {
			case actor.BridgeConnectTag:
				if err := n.Rooms().Join(lobby, b); err != nil {
					ctx.Stop(actor.Normal)
				}
			case actor.BridgeDataTag:
				_ = n.Rooms().BroadcastExcept(lobby, b, bridge.Text, msg.Payload)
			case actor.BridgeBinaryTag:
				_ = b.Write(msg.Payload)
			case actor.BridgeDisconnectTag:
				return
			}
		}
	}, nil)
}
