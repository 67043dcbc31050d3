package node

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/executor"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/types"
)

// DefaultNodeID 默认节点的逻辑 ID
const DefaultNodeID = "default"

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config        *config.Config
	Transport     pkgif.TransportService
	Authorization pkgif.AuthorizationService
	KeyBundle     pkgif.KeyBundleService
	BanList       pkgif.BanList `optional:"true"`
	IOPool        *executor.Pool
	Dispatcher    *executor.Dispatcher
	Clock         clock.Clock
	EventBus      pkgif.EventBus `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	NodesById   *NodesById
	DefaultNode *Node
}

// ProvideNodes 创建注册表与默认节点
//
// 默认节点在 OnStart 时初始化；OnStop 时关闭所有节点。
func ProvideNodes(lc fx.Lifecycle, in ModuleInput) (ModuleOutput, error) {
	deps := Dependencies{
		Transport:     in.Transport,
		Authorization: in.Authorization,
		KeyBundle:     in.KeyBundle,
		BanList:       in.BanList,
		Pool:          in.IOPool,
		Dispatcher:    in.Dispatcher,
		Clock:         in.Clock,
		EventBus:      in.EventBus,
	}
	opts := OptionsFromConfig(in.Config.Node)
	nb, err := NewNodesById(opts, deps)
	if err != nil {
		return ModuleOutput{}, err
	}

	address := types.NewAddress(in.Config.Node.ListenHost, in.Config.Node.ListenPort)
	networkID := types.NewNetworkId(
		types.AddressByTransportTypeMap{opts.TransportType: address},
		in.KeyBundle.PubKey(),
		DefaultNodeID,
	)
	defaultNode, err := nb.CreateAndConfigNode(networkID, true)
	if err != nil {
		return ModuleOutput{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return defaultNode.Initialize(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return nb.Shutdown(ctx)
		},
	})
	return ModuleOutput{NodesById: nb, DefaultNode: defaultNode}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("node",
		fx.Provide(ProvideNodes),
	)
}
