package authz

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ProvideAuthorizationService 根据配置创建授权服务
func ProvideAuthorizationService(cfg *config.Config) (pkgif.AuthorizationService, error) {
	return NewHashCashService(cfg.Authorization.Difficulty)
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("authz",
		fx.Provide(ProvideAuthorizationService),
	)
}
