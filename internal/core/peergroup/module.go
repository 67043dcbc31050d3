package peergroup

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/node"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config      *config.Config
	DefaultNode *node.Node
	Clock       clock.Clock
}

// ProvideManager 创建默认节点的 peer group
//
// 种子拨号在后台进行，不阻塞应用启动。
func ProvideManager(lc fx.Lifecycle, in ModuleInput) (*StaticManager, error) {
	opts := DefaultOptions()
	opts.Seeds = in.Config.PeerGroup.Seeds()
	opts.TargetNumConnectedPeers = in.Config.PeerGroup.TargetNumConnectedPeers
	opts.MaintenanceInterval = in.Config.PeerGroup.MaintenanceInterval.Duration()
	opts.DialTimeout = in.Config.Node.HandshakeTimeout.Duration()

	m, err := NewStaticManager(opts, in.DefaultNode, in.Clock)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := m.Start(context.Background()); err != nil {
					logger.Warn("启动 peer group 失败", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.Stop(ctx)
		},
	})
	return m, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("peergroup",
		fx.Provide(ProvideManager),
	)
}
