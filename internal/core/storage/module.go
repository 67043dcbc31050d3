package storage

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/storage/engine"
	"github.com/dep2p/go-netsync/internal/core/storage/engine/badger"
	"github.com/dep2p/go-netsync/internal/core/storage/kv"
	"github.com/dep2p/go-netsync/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config *config.Config `optional:"true"`
	Clock  clock.Clock    `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Engine engine.Engine
	Badger *badger.Engine
}

// Module 返回存储 Fx 模块
//
// 生命周期:
//   - OnStart: 启动值日志回收
//   - OnStop: 关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
	)
}

// ProvideStorage 打开存储引擎
func ProvideStorage(lc fx.Lifecycle, in ModuleInput) (ModuleOutput, error) {
	cfg := EngineConfig(in.Config)
	eng, err := badger.New(cfg, in.Clock)
	if err != nil {
		logger.Error("打开存储引擎失败", "path", cfg.Path, "error", err)
		return ModuleOutput{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			eng.Start()
			logger.Info("存储引擎已启动", "path", cfg.Path, "inMemory", cfg.InMemory)
			return nil
		},
		OnStop: func(context.Context) error {
			if err := eng.Close(); err != nil {
				logger.Warn("关闭存储引擎失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
	return ModuleOutput{Engine: eng, Badger: eng}, nil
}

// NewKVStore 创建带前缀的 KV 视图
func NewKVStore(eng engine.Engine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}
