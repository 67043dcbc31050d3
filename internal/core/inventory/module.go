package inventory

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config      *config.Config
	DefaultNode *node.Node
	PeerGroup   PeerGroup
	Data        pkgif.DataService
	Store       pkgif.InventoryStore
	IOPool      *executor.Pool
	Clock       clock.Clock
	EventBus    pkgif.EventBus `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	RequestService  *RequestService
	ResponseService *ResponseService
}

// ProvideServices 创建默认节点上的请求与响应服务
func ProvideServices(lc fx.Lifecycle, in ModuleInput) (ModuleOutput, error) {
	filters := []FilterService{NewHashSetFilterService(in.Store)}
	opts := OptionsFromConfig(in.Config.Inventory)

	req, err := NewRequestService(opts, Dependencies{
		Host:      in.DefaultNode,
		PeerGroup: in.PeerGroup,
		Data:      in.Data,
		Filters:   filters,
		Pool:      in.IOPool,
		Clock:     in.Clock,
		EventBus:  in.EventBus,
	})
	if err != nil {
		return ModuleOutput{}, err
	}
	types := make([]protocol.FilterType, 0, len(filters))
	for _, f := range filters {
		types = append(types, f.Type())
	}
	resp, err := NewResponseService(in.DefaultNode, in.Store, in.IOPool, opts.MaxInventorySize, types)
	if err != nil {
		return ModuleOutput{}, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			resp.Start()
			req.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			req.Shutdown()
			resp.Shutdown()
			return nil
		},
	})
	return ModuleOutput{RequestService: req, ResponseService: resp}, nil
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("inventory",
		fx.Provide(ProvideServices),
	)
}
