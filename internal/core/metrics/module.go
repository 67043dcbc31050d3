package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config      *config.Config
	DefaultNode *node.Node
	EventBus    pkgif.EventBus `optional:"true"`
}

// ProvideCollector 创建指标收集器，未启用时返回 nil
func ProvideCollector(lc fx.Lifecycle, in ModuleInput) (*Collector, error) {
	cfg := in.Config.Metrics
	if !cfg.Enabled {
		return nil, nil
	}
	c, err := NewCollector(cfg.Namespace, in.DefaultNode)
	if err != nil {
		return nil, err
	}
	var srv *Server
	if cfg.ListenAddr != "" {
		srv = NewServer(cfg.ListenAddr, c.Registry())
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			in.DefaultNode.AddListener(c)
			if in.EventBus != nil {
				if err := c.Subscribe(in.EventBus); err != nil {
					return err
				}
			}
			if srv != nil {
				return srv.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.DefaultNode.RemoveListener(c)
			c.Close()
			if srv != nil {
				return srv.Stop(ctx)
			}
			return nil
		},
	})
	return c, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideCollector),
	)
}
