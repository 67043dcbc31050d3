package inventory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// ResponseService 回答对端的 InventoryRequest
type ResponseService struct {
	host     Host
	store    pkgif.InventoryStore
	pool     *executor.Pool
	maxBytes int
	// supported 可回答的过滤器类型
	supported map[protocol.FilterType]struct{}

	started atomic.Bool
	closed  atomic.Bool
	served  atomic.Int64
}

var _ node.Listener = (*ResponseService)(nil)

// NewResponseService 创建响应服务，filterTypes 为可回答的过滤器类型
func NewResponseService(host Host, store pkgif.InventoryStore, pool *executor.Pool, maxBytes int, filterTypes []protocol.FilterType) (*ResponseService, error) {
	if host == nil || store == nil || pool == nil {
		return nil, fmt.Errorf("%w: response service", ErrInvalidDependencies)
	}
	s := &ResponseService{
		host:      host,
		store:     store,
		pool:      pool,
		maxBytes:  maxBytes,
		supported: make(map[protocol.FilterType]struct{}, len(filterTypes)),
	}
	for _, t := range filterTypes {
		s.supported[t] = struct{}{}
	}
	return s, nil
}

// Start 注册为节点监听器
func (s *ResponseService) Start() {
	if s.started.CompareAndSwap(false, true) {
		s.host.AddListener(s)
	}
}

// Shutdown 注销监听器
func (s *ResponseService) Shutdown() {
	if s.closed.CompareAndSwap(false, true) {
		s.host.RemoveListener(s)
	}
}

// OnMessage 实现 node.Listener
func (s *ResponseService) OnMessage(msg protocol.NetworkMessage, conn *connection.Connection, _ types.NetworkId) {
	req, ok := msg.(*protocol.InventoryRequest)
	if !ok || s.closed.Load() {
		return
	}
	if _, err := s.pool.Submit(func(context.Context) { s.respond(req, conn) }); err != nil {
		logger.Debug("提交 inventory 响应失败", "error", err)
	}
}

func (s *ResponseService) respond(req *protocol.InventoryRequest, conn *connection.Connection) {
	if _, ok := s.supported[req.Filter.FilterType]; !ok {
		logger.Warn("不支持的过滤器类型", "peer", conn.PeerAddress().String(), "filterType", req.Filter.FilterType.String())
		return
	}
	inv, err := s.store.Missing(req.Filter, s.maxBytes)
	if err != nil {
		logger.Warn("计算 inventory 失败", "peer", conn.PeerAddress().String(), "error", err)
		return
	}
	resp := &protocol.InventoryResponse{Inventory: inv, RequestNonce: req.Nonce}
	if err := s.host.SendOn(resp, conn); err != nil {
		logger.Debug("发送 inventory 响应失败", "peer", conn.PeerAddress().String(), "error", err)
		return
	}
	s.served.Add(1)
	logger.Debug("已发送 inventory 响应", "peer", conn.PeerAddress().String(), "summary", inv.Summary())
}

// NumServed 返回已发送的响应数
func (s *ResponseService) NumServed() int64 { return s.served.Load() }

// OnConnection 实现 node.Listener
func (s *ResponseService) OnConnection(*connection.Connection) {}

// OnDisconnect 实现 node.Listener
func (s *ResponseService) OnDisconnect(*connection.Connection, connection.CloseReason) {}

// OnShutdown 实现 node.Listener
func (s *ResponseService) OnShutdown(*node.Node) {}
