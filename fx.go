package netsync

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-netsync/internal/core/authz"
	"github.com/dep2p/go-netsync/internal/core/banlist"
	"github.com/dep2p/go-netsync/internal/core/datastore"
	"github.com/dep2p/go-netsync/internal/core/eventbus"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/identity"
	"github.com/dep2p/go-netsync/internal/core/inventory"
	"github.com/dep2p/go-netsync/internal/core/metrics"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/outbound"
	"github.com/dep2p/go-netsync/internal/core/peergroup"
	"github.com/dep2p/go-netsync/internal/core/storage"
	"github.com/dep2p/go-netsync/internal/core/transport/tcp"
)

// buildFxApp 组装所有模块
//
// 加载顺序（按依赖）：
//  1. 基础：config、clock、executor、eventbus、identity、storage
//  2. 数据：datastore
//  3. 网络：authz、banlist、transport、node
//  4. 同步：peergroup、inventory
//  5. 可选：outbound、metrics
//  6. 用户 Fx 选项
func buildFxApp(s *settings, n *Netsync) (*fx.App, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 1. 基础模块
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(s.cfg),
		fx.Provide(func() clock.Clock { return s.clock }),
		executor.Module(),
		eventbus.Module(),
		identity.Module(),
		storage.Module(),
		datastore.Module(),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 网络与同步
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		authz.Module(),
		banlist.Module(),
		tcp.Module(),
		node.Module(),
		peergroup.Module(),
		fx.Provide(func(m *peergroup.StaticManager) inventory.PeerGroup { return m }),
		inventory.Module(),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 3. 可选模块
	// ════════════════════════════════════════════════════════════════════════
	if s.cfg.Outbound.Enabled {
		modules = append(modules,
			outbound.Module(),
			fx.Populate(&n.multiplexer),
		)
	}
	modules = append(modules, metrics.Module())

	if len(s.fxOptions) > 0 {
		modules = append(modules, s.fxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Populate(
			&n.nodesById,
			&n.defaultNode,
			&n.peerGroup,
			&n.requests,
			&n.responses,
			&n.dataStore,
			&n.metrics,
		),
		fx.NopLogger,
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}
