package executor

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
)

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	IOPool     *Pool
	Dispatcher *Dispatcher
}

// ProvideExecutors 根据节点配置创建 I/O 池与分发器
func ProvideExecutors(lc fx.Lifecycle, cfg *config.Config) ModuleOutput {
	pool := NewPool("io", cfg.Node.IOPoolSize)
	dispatcher := NewDispatcher()
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			err := pool.Close(ctx)
			if derr := dispatcher.Close(ctx); err == nil {
				err = derr
			}
			return err
		},
	})
	return ModuleOutput{IOPool: pool, Dispatcher: dispatcher}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("executor",
		fx.Provide(ProvideExecutors),
	)
}
