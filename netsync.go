package netsync

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"github.com/dep2p/go-netsync/config"
	"github.com/dep2p/go-netsync/internal/core/datastore"
	"github.com/dep2p/go-netsync/internal/core/inventory"
	"github.com/dep2p/go-netsync/internal/core/metrics"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/outbound"
	"github.com/dep2p/go-netsync/internal/core/peergroup"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("netsync")

// startTimeout 未设置截止时间时 Fx 启动的上限
const startTimeout = 30 * time.Second

// Netsync 一个运行中的同步节点
type Netsync struct {
	cfg *config.Config
	app *fx.App

	logCloser io.Closer

	nodesById   *node.NodesById
	defaultNode *node.Node
	peerGroup   *peergroup.StaticManager
	requests    *inventory.RequestService
	responses   *inventory.ResponseService
	dataStore   *datastore.Store
	metrics     *metrics.Collector
	multiplexer *outbound.Multiplexer

	mu      sync.Mutex
	started bool
	stopped bool
}

// New 按配置构建节点，cfg 为 nil 时使用默认配置
//
// cfg 被复制，之后对它的修改不影响节点。
func New(cfg *config.Config, opts ...Option) (*Netsync, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	s := &settings{cfg: cfg.Clone(), clock: clock.New()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	closer, err := applyLogging(s.cfg.Log)
	if err != nil {
		return nil, err
	}

	n := &Netsync{cfg: s.cfg, logCloser: closer}
	app, err := buildFxApp(s, n)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	n.app = app
	return n, nil
}

// Start 启动所有组件并开始监听
func (n *Netsync) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.stopped:
		return ErrStopped
	case n.started:
		return ErrAlreadyStarted
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, startTimeout)
		defer cancel()
	}
	if err := n.app.Start(ctx); err != nil {
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("start: %w", err)
	}
	n.started = true
	logger.Info("节点已启动",
		"version", Version,
		"addr", n.defaultNode.Capability().Address.String(),
		"seeds", len(n.cfg.PeerGroup.SeedAddresses))
	return nil
}

// Stop 停止所有组件，重复调用无操作
func (n *Netsync) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return nil
	}
	n.stopped = true

	var err error
	if n.started {
		err = n.app.Stop(ctx)
	}
	if n.logCloser != nil {
		err = multierr.Append(err, n.logCloser.Close())
	}
	logger.Info("节点已停止")
	return err
}

// Config 返回生效的配置
func (n *Netsync) Config() *config.Config { return n.cfg }

// NodesById 返回节点注册表
func (n *Netsync) NodesById() *node.NodesById { return n.nodesById }

// DefaultNode 返回默认节点
func (n *Netsync) DefaultNode() *node.Node { return n.defaultNode }

// Addr 返回默认节点的监听地址，启动前端口可能为 0
func (n *Netsync) Addr() types.Address { return n.defaultNode.Capability().Address }

// PeerGroup 返回 peer group
func (n *Netsync) PeerGroup() *peergroup.StaticManager { return n.peerGroup }

// Inventory 返回 inventory 请求服务
func (n *Netsync) Inventory() *inventory.RequestService { return n.requests }

// InventoryResponder 返回 inventory 响应服务
func (n *Netsync) InventoryResponder() *inventory.ResponseService { return n.responses }

// DataStore 返回本地数据存储
func (n *Netsync) DataStore() *datastore.Store { return n.dataStore }

// Metrics 返回指标收集器，未启用时为 nil
func (n *Netsync) Metrics() *metrics.Collector { return n.metrics }

// Multiplexer 返回出站复用器，未启用时为 nil
func (n *Netsync) Multiplexer() *outbound.Multiplexer { return n.multiplexer }
