package outbound

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config        *config.Config
	DefaultNode   *node.Node
	Authorization pkgif.AuthorizationService
	BanList       pkgif.BanList `optional:"true"`
	Dispatcher    *executor.Dispatcher
	Clock         clock.Clock
}

// ProvideMultiplexer 创建以默认节点身份握手的出站复用器
//
// 默认节点初始化后才激活管理器，此前 reactor 保持阻塞。
func ProvideMultiplexer(lc fx.Lifecycle, in ModuleInput) (*Multiplexer, error) {
	manager, err := NewManager(Options{
		PollTimeout:    in.Config.Outbound.PollTimeout.Duration(),
		ReadBufferSize: in.Config.Outbound.ReadBufferSize,
	}, Dependencies{
		Capability:    in.DefaultNode.Capability,
		Load:          in.DefaultNode.NetworkLoad,
		Authorization: in.Authorization,
		BanList:       in.BanList,
		Dispatcher:    in.Dispatcher,
		Clock:         in.Clock,
	})
	if err != nil {
		return nil, err
	}
	x := NewMultiplexer(manager)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := x.Start(); err != nil {
				return err
			}
			if in.DefaultNode.IsInitialized() {
				manager.Activate()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return x.Shutdown(ctx)
		},
	})
	return x, nil
}

// Module 返回 Fx 模块，只在配置启用复用器时装配
func Module() fx.Option {
	return fx.Module("outbound",
		fx.Provide(ProvideMultiplexer),
		fx.Invoke(func(*Multiplexer) {}),
	)
}
