package datastore

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/storage/engine"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config   *config.Config
	Engine   engine.Engine
	EventBus pkgif.EventBus `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Store          *Store
	DataService    pkgif.DataService
	InventoryStore pkgif.InventoryStore
}

// ProvideStore 创建数据存储
func ProvideStore(lc fx.Lifecycle, in ModuleInput) (ModuleOutput, error) {
	s, err := New(in.Engine, in.Config.Storage.SeenCacheSize, in.EventBus)
	if err != nil {
		return ModuleOutput{}, err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			n, err := s.NumEntries()
			if err != nil {
				return err
			}
			logger.Info("数据存储已加载", "entries", n)
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
	return ModuleOutput{Store: s, DataService: s, InventoryStore: s}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("datastore",
		fx.Provide(ProvideStore),
	)
}
