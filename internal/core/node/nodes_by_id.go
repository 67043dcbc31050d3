package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// DefaultShutdownTimeout 关闭所有节点的默认整体时限
const DefaultShutdownTimeout = 10 * time.Second

// NodesById 以 NetworkId 为键的节点注册表
//
// 按需创建并初始化节点；作为每个节点的 Listener，把节点事件扇出给
// 独立的监听器集合，并在节点关闭时从注册表中移除。
type NodesById struct {
	opts Options
	deps Dependencies

	mu    sync.RWMutex
	nodes map[string]*Node

	listenersMu   sync.RWMutex
	nodeListeners map[NodeListener]struct{}
	listeners     map[Listener]struct{}
}

var _ Listener = (*NodesById)(nil)

// NewNodesById 创建注册表
func NewNodesById(opts Options, deps Dependencies) (*NodesById, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &NodesById{
		opts:          opts,
		deps:          deps,
		nodes:         make(map[string]*Node),
		nodeListeners: make(map[NodeListener]struct{}),
		listeners:     make(map[Listener]struct{}),
	}, nil
}

// CreateAndConfigNode 创建并登记节点，总是通知 OnNodeAdded
//
// 不检查是否已存在，调用方需先使用 FindNode。
func (nb *NodesById) CreateAndConfigNode(networkID types.NetworkId, isDefault bool) (*Node, error) {
	node, err := New(networkID, isDefault, nb.opts, nb.deps)
	if err != nil {
		return nil, err
	}
	node.AddListener(nb)

	nb.mu.Lock()
	nb.nodes[networkID.Key()] = node
	nb.mu.Unlock()

	logger.Debug("创建节点", "networkId", networkID.String(), "default", isDefault)
	for _, l := range nb.snapshotNodeListeners() {
		l.OnNodeAdded(node)
	}
	return node, nil
}

// InitializeNode 初始化节点，不存在时先创建
func (nb *NodesById) InitializeNode(ctx context.Context, networkID types.NetworkId) (*Node, error) {
	node, err := nb.getOrCreate(networkID)
	if err != nil {
		return nil, err
	}
	if err := node.Initialize(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

func (nb *NodesById) getOrCreate(networkID types.NetworkId) (*Node, error) {
	nb.mu.Lock()
	if node, ok := nb.nodes[networkID.Key()]; ok {
		nb.mu.Unlock()
		return node, nil
	}
	node, err := New(networkID, false, nb.opts, nb.deps)
	if err != nil {
		nb.mu.Unlock()
		return nil, err
	}
	node.AddListener(nb)
	nb.nodes[networkID.Key()] = node
	nb.mu.Unlock()

	logger.Debug("按需创建节点", "networkId", networkID.String())
	for _, l := range nb.snapshotNodeListeners() {
		l.OnNodeAdded(node)
	}
	return node, nil
}

// GetConnection 通过 networkID 对应的节点获取到 addr 的连接
func (nb *NodesById) GetConnection(ctx context.Context, networkID types.NetworkId, addr types.Address) (*connection.Connection, error) {
	node, err := nb.InitializeNode(ctx, networkID)
	if err != nil {
		return nil, err
	}
	return node.GetConnection(ctx, addr)
}

// Send 通过 networkID 对应的节点向 addr 发送消息
func (nb *NodesById) Send(ctx context.Context, networkID types.NetworkId, msg protocol.NetworkMessage, addr types.Address) (*connection.Connection, error) {
	node, err := nb.InitializeNode(ctx, networkID)
	if err != nil {
		return nil, err
	}
	return node.Send(ctx, msg, addr)
}

// SendOn 通过 networkID 对应的节点在已有连接上发送消息
func (nb *NodesById) SendOn(ctx context.Context, networkID types.NetworkId, msg protocol.NetworkMessage, conn *connection.Connection) error {
	node, err := nb.InitializeNode(ctx, networkID)
	if err != nil {
		return err
	}
	return node.SendOn(msg, conn)
}

// IsNodeInitialized 报告节点是否存在且处于运行状态
func (nb *NodesById) IsNodeInitialized(networkID types.NetworkId) bool {
	node, ok := nb.FindNode(networkID)
	return ok && node.IsInitialized()
}

// AssertNodeIsInitialized 节点不存在或未运行时返回错误
func (nb *NodesById) AssertNodeIsInitialized(networkID types.NetworkId) error {
	node, ok := nb.FindNode(networkID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, networkID)
	}
	return node.assertRunning()
}

// FindNode 查找节点
func (nb *NodesById) FindNode(networkID types.NetworkId) (*Node, bool) {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	node, ok := nb.nodes[networkID.Key()]
	return node, ok
}

// AllNodes 返回所有节点的快照
func (nb *NodesById) AllNodes() []*Node {
	nb.mu.RLock()
	defer nb.mu.RUnlock()
	out := make([]*Node, 0, len(nb.nodes))
	for _, node := range nb.nodes {
		out = append(out, node)
	}
	return out
}

// ============================================================================
//                              关闭
// ============================================================================

// Shutdown 并行关闭所有节点
//
// 整体时限为 Options.ShutdownTimeout。无论单个节点失败或超时，
// 返回前都会清空注册表与两个监听器集合；只有所有节点都在时限内
// 正常关闭时才返回 nil。
func (nb *NodesById) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, nb.opts.ShutdownTimeout)
	defer cancel()

	nodes := nb.AllNodes()
	logger.Info("正在关闭所有节点", "count", len(nodes))

	errs := make([]error, len(nodes))
	g := new(errgroup.Group)
	for i, node := range nodes {
		g.Go(func() error {
			errs[i] = node.Shutdown(ctx)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		err = multierr.Combine(errs...)
	case <-ctx.Done():
		err = fmt.Errorf("shutdown nodes: %w", ctx.Err())
	}

	nb.mu.Lock()
	nb.nodes = make(map[string]*Node)
	nb.mu.Unlock()
	nb.listenersMu.Lock()
	nb.nodeListeners = make(map[NodeListener]struct{})
	nb.listeners = make(map[Listener]struct{})
	nb.listenersMu.Unlock()

	if err != nil {
		logger.Warn("关闭节点时发生错误", "error", err)
	}
	return err
}

// ============================================================================
//                              Listener 扇出
// ============================================================================

// OnMessage 实现 Listener
func (nb *NodesById) OnMessage(msg protocol.NetworkMessage, conn *connection.Connection, networkID types.NetworkId) {
	for _, l := range nb.snapshotListeners() {
		l.OnMessage(msg, conn, networkID)
	}
}

// OnConnection 实现 Listener
func (nb *NodesById) OnConnection(conn *connection.Connection) {
	for _, l := range nb.snapshotListeners() {
		l.OnConnection(conn)
	}
}

// OnDisconnect 实现 Listener
func (nb *NodesById) OnDisconnect(conn *connection.Connection, reason connection.CloseReason) {
	for _, l := range nb.snapshotListeners() {
		l.OnDisconnect(conn, reason)
	}
}

// OnShutdown 实现 Listener，节点关闭后从注册表移除
func (nb *NodesById) OnShutdown(node *Node) {
	key := node.NetworkID().Key()
	nb.mu.Lock()
	removed := nb.nodes[key] == node
	if removed {
		delete(nb.nodes, key)
	}
	nb.mu.Unlock()

	if removed {
		for _, l := range nb.snapshotNodeListeners() {
			l.OnNodeRemoved(node)
		}
	}
	for _, l := range nb.snapshotListeners() {
		l.OnShutdown(node)
	}
}

// AddNodeListener 注册注册表事件监听器
func (nb *NodesById) AddNodeListener(l NodeListener) {
	nb.listenersMu.Lock()
	nb.nodeListeners[l] = struct{}{}
	nb.listenersMu.Unlock()
}

// RemoveNodeListener 注销注册表事件监听器
func (nb *NodesById) RemoveNodeListener(l NodeListener) {
	nb.listenersMu.Lock()
	delete(nb.nodeListeners, l)
	nb.listenersMu.Unlock()
}

// AddListener 注册节点事件监听器，接收所有节点的事件
func (nb *NodesById) AddListener(l Listener) {
	nb.listenersMu.Lock()
	nb.listeners[l] = struct{}{}
	nb.listenersMu.Unlock()
}

// RemoveListener 注销节点事件监听器
func (nb *NodesById) RemoveListener(l Listener) {
	nb.listenersMu.Lock()
	delete(nb.listeners, l)
	nb.listenersMu.Unlock()
}

// NumListeners 返回两个监听器集合的大小
func (nb *NodesById) NumListeners() (nodeListeners, listeners int) {
	nb.listenersMu.RLock()
	defer nb.listenersMu.RUnlock()
	return len(nb.nodeListeners), len(nb.listeners)
}

func (nb *NodesById) snapshotListeners() []Listener {
	nb.listenersMu.RLock()
	defer nb.listenersMu.RUnlock()
	out := make([]Listener, 0, len(nb.listeners))
	for l := range nb.listeners {
		out = append(out, l)
	}
	return out
}

func (nb *NodesById) snapshotNodeListeners() []NodeListener {
	nb.listenersMu.RLock()
	defer nb.listenersMu.RUnlock()
	out := make([]NodeListener, 0, len(nb.nodeListeners))
	for l := range nb.nodeListeners {
		out = append(out, l)
	}
	return out
}
