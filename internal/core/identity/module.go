package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ProvideKeyBundle 内存模式下生成临时密钥，否则从数据目录加载或创建
func ProvideKeyBundle(cfg *config.Config) (pkgif.KeyBundleService, error) {
	if cfg.Storage.InMemory {
		return Generate()
	}
	return LoadOrCreate(cfg.Storage.KeyPath())
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideKeyBundle),
	)
}
