package banlist

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config *config.Config
	Clock  clock.Clock
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	BanList pkgif.BanList
}

// ProvideBanList 创建黑名单
func ProvideBanList(in ModuleInput) (ModuleOutput, error) {
	b, err := New(in.Config.Authorization.BanListSize, in.Clock)
	if err != nil {
		return ModuleOutput{}, err
	}
	return ModuleOutput{BanList: b}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("banlist",
		fx.Provide(ProvideBanList),
	)
}
