package inventory

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/future"
	"github.com/dep2p/go-netsync/pkg/protocol"
)

// Sender 在已有连接上发送消息
type Sender interface {
	SendOn(msg protocol.NetworkMessage, conn *connection.Connection) error
}

// InventoryFuture 一次 inventory 请求的结果
type InventoryFuture = future.Future[protocol.Inventory]

// Handler 把一个 inventory 请求与其响应对应起来
//
// 只有 RequestNonce 与本 handler 的 nonce 相同的响应才会完成结果，
// 其他响应被忽略。连接关闭时结果被取消。Dispose 可重复调用。
type Handler struct {
	sender Sender
	conn   *connection.Connection
	pool   *executor.Pool
	clock  clock.Clock
	nonce  int32

	result   *InventoryFuture
	sentAt   atomic.Int64
	remove   func()
	disposed atomic.Bool
}

// NewHandler 创建绑定到 conn 的 handler 并注册为连接监听器
func NewHandler(sender Sender, conn *connection.Connection, pool *executor.Pool, c clock.Clock) *Handler {
	if c == nil {
		c = clock.New()
	}
	h := &Handler{
		sender: sender,
		conn:   conn,
		pool:   pool,
		clock:  c,
		nonce:  rand.Int32(),
		result: future.New[protocol.Inventory](),
	}
	h.remove = conn.AddListener(h)
	return h
}

// Request 异步发送 InventoryRequest，返回尚未完成的结果
//
// 发送失败时结果立即失败并释放 handler。
func (h *Handler) Request(filter protocol.DataFilter) *InventoryFuture {
	if h.disposed.Load() {
		h.result.Fail(ErrHandlerDisposed)
		return h.result
	}
	if !h.conn.IsRunning() {
		h.fail(connection.ErrConnectionClosed)
		return h.result
	}
	h.sentAt.Store(h.clock.Now().UnixNano())
	msg := &protocol.InventoryRequest{Filter: filter, Nonce: h.nonce}
	_, err := h.pool.Submit(func(context.Context) {
		if err := h.sender.SendOn(msg, h.conn); err != nil {
			logger.Debug("发送 inventory 请求失败", "peer", h.conn.PeerAddress().String(), "error", err)
			h.fail(err)
		}
	})
	if err != nil {
		h.fail(err)
	}
	return h.result
}

// OnEvent 实现 connection.Listener
func (h *Handler) OnEvent(evt connection.Event) {
	switch e := evt.(type) {
	case connection.MessageEvent:
		resp, ok := e.Message().(*protocol.InventoryResponse)
		if !ok {
			return
		}
		if resp.RequestNonce != h.nonce {
			logger.Warn("收到 nonce 不匹配的 inventory 响应",
				"peer", h.conn.PeerAddress().String(), "nonce", resp.RequestNonce, "expected", h.nonce)
			return
		}
		h.onResponse(resp.Inventory)
	case connection.ClosedEvent:
		h.Dispose()
	}
}

func (h *Handler) onResponse(inv protocol.Inventory) {
	if h.disposed.Load() {
		return
	}
	logger.Info("收到 inventory", "peer", h.conn.PeerAddress().String(), "summary", inv.Summary())
	h.removeListener()
	if sent := h.sentAt.Load(); sent != 0 {
		h.conn.Metrics().AddRTT(h.clock.Now().Sub(time.Unix(0, sent)))
	}
	h.result.Complete(inv)
}

func (h *Handler) fail(err error) {
	h.result.Fail(err)
	h.Dispose()
}

// Dispose 注销监听器并取消未完成的结果
func (h *Handler) Dispose() {
	if !h.disposed.CompareAndSwap(false, true) {
		return
	}
	h.removeListener()
	h.result.Cancel()
}

func (h *Handler) removeListener() {
	if h.remove != nil {
		h.remove()
	}
}

// Nonce 返回请求 nonce
func (h *Handler) Nonce() int32 { return h.nonce }

// Result 返回请求结果
func (h *Handler) Result() *InventoryFuture { return h.result }

// Connection 返回绑定的连接
func (h *Handler) Connection() *connection.Connection { return h.conn }

// IsDisposed 报告是否已释放
func (h *Handler) IsDisposed() bool { return h.disposed.Load() }
