package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netsync/internal/core/envelope"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/connection")

// Config 创建连接所需的依赖
type Config struct {
	// ID 为空时自动生成
	ID        string
	Direction types.Direction
	Socket    *envelope.Socket

	// PeerCapability 握手中获得的对端能力
	PeerCapability types.Capability
	PeerLoad       types.NetworkLoad

	// PeerAddress 出站为拨号地址；入站为对端声明的地址
	PeerAddress types.Address

	Handler    Handler
	Pool       *executor.Pool
	Dispatcher *executor.Dispatcher
	Clock      clock.Clock

	// SendTimeout 单次写超时，0 表示不限
	SendTimeout time.Duration
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// Connection 与一个对端的帧化连接
type Connection struct {
	id             string
	direction      types.Direction
	socket         *envelope.Socket
	peerCapability types.Capability
	peerAddress    types.Address
	peerLoad       atomic.Pointer[types.NetworkLoad]
	handler        Handler
	pool           *executor.Pool
	dispatcher     *executor.Dispatcher
	sendTimeout    time.Duration
	metrics        *Metrics

	addressVerified atomic.Bool
	listening       atomic.Bool

	writeMu sync.Mutex

	started        atomic.Bool
	stopped        atomic.Bool
	closeDelivered atomic.Bool
	closeReason    atomic.Pointer[CloseReason]
	readTask       atomic.Pointer[executor.Task]

	listenersMu    sync.Mutex
	listeners      []listenerEntry
	nextListenerID uint64
}

// New 创建连接，调用 Start 后才开始读取
func New(cfg Config) (*Connection, error) {
	if cfg.Socket == nil || cfg.Pool == nil || cfg.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	if cfg.Direction != types.DirInbound && cfg.Direction != types.DirOutbound {
		return nil, fmt.Errorf("%w: direction %s", ErrInvalidConfig, cfg.Direction)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ID == "" {
		cfg.ID = types.NewUID()
	}
	c := &Connection{
		id:             cfg.ID,
		direction:      cfg.Direction,
		socket:         cfg.Socket,
		peerCapability: cfg.PeerCapability,
		peerAddress:    cfg.PeerAddress,
		handler:        cfg.Handler,
		pool:           cfg.Pool,
		dispatcher:     cfg.Dispatcher,
		sendTimeout:    cfg.SendTimeout,
		metrics:        NewMetrics(cfg.Clock),
	}
	load := cfg.PeerLoad
	c.peerLoad.Store(&load)
	c.listening.Store(true)
	if cfg.Direction == types.DirOutbound {
		c.addressVerified.Store(true)
	}
	return c, nil
}

// Start 启动读循环，每个连接只能启动一次
func (c *Connection) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	task, err := c.pool.Go(c.readLoop)
	if err != nil {
		c.Close(Exception(err))
		return &Error{Conn: c, Reason: "start read loop", Err: err}
	}
	c.readTask.Store(task)
	if c.stopped.Load() {
		task.Cancel()
	}
	return nil
}

// ============================================================================
//                              发送
// ============================================================================

// Send 发送一条消息
//
// 连接已关闭时返回 ErrConnectionClosed。连接仍然打开时的传输错误会
// 以 EXCEPTION 关闭连接并返回 *Error；如果失败只是因为连接已被并发关闭，
// 错误被吞掉。
func (c *Connection) Send(msg protocol.NetworkMessage, token protocol.AuthorizationToken) error {
	if c.stopped.Load() {
		return &Error{Conn: c, Reason: "send " + msg.Kind().String(), Err: ErrConnectionClosed}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.stopped.Load() {
		return &Error{Conn: c, Reason: "send " + msg.Kind().String(), Err: ErrConnectionClosed}
	}
	n, err := c.socket.Send(protocol.NewEnvelope(token, msg), c.sendTimeout)
	if err != nil {
		if c.stopped.Load() {
			logger.Debug("连接已并发关闭，忽略发送失败", "conn", c.shortID(), "kind", msg.Kind().String(), "error", err)
			return nil
		}
		c.Close(Exception(err))
		return &Error{Conn: c, Reason: "send " + msg.Kind().String(), Err: err}
	}
	c.metrics.RecordSent(n)
	logger.Debug("发送消息", "conn", c.shortID(), "kind", msg.Kind().String(), "bytes", n)
	return nil
}

// ============================================================================
//                              读循环
// ============================================================================

func (c *Connection) readLoop(ctx context.Context) {
	for !c.stopped.Load() && ctx.Err() == nil {
		env, n, err := c.socket.Receive()
		if err != nil {
			if c.stopped.Load() || ctx.Err() != nil {
				return
			}
			c.Close(reasonForReadError(err))
			return
		}
		if env.Version != protocol.Version {
			err := &Error{
				Conn:   c,
				Reason: fmt.Sprintf("received version %d, expected %d", env.Version, protocol.Version),
				Err:    ErrVersionMismatch,
			}
			logger.Warn("协议版本不一致，关闭连接", "conn", c.shortID(), "peer", c.peerAddress.String(), "version", env.Version)
			c.Close(ProtocolViolation(err))
			return
		}
		c.metrics.RecordReceived(n)
		if !c.listening.Load() {
			continue
		}
		if logger.Enabled(log.LevelDebug) {
			logger.Debug("收到消息", "conn", c.shortID(), "msg", log.Truncate(env.String(), 200))
		}
		c.dispatchMessage(env)
	}
}

func reasonForReadError(err error) CloseReason {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return PeerClosed()
	case errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnknownMessageKind),
		errors.Is(err, protocol.ErrMissingPayload),
		errors.Is(err, envelope.ErrFrameTooLarge),
		errors.Is(err, envelope.ErrEmptyFrame):
		return ProtocolViolation(err)
	default:
		return Exception(err)
	}
}

func (c *Connection) dispatchMessage(env *protocol.NetworkEnvelope) {
	evt := MessageEvent{Conn: c, Envelope: env}
	err := c.dispatcher.Submit(func() {
		// 关闭通知之后不再投递
		if c.closeDelivered.Load() {
			return
		}
		if c.handler != nil {
			c.handler.OnEvent(evt)
			// handler 可能因该消息关闭连接
			if c.stopped.Load() {
				return
			}
		}
		for _, l := range c.snapshotListeners() {
			l.OnEvent(evt)
		}
	})
	if err != nil {
		logger.Debug("分发器已关闭，丢弃消息", "conn", c.shortID(), "kind", env.Message.Kind().String())
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭连接，重复调用无效
func (c *Connection) Close(reason CloseReason) {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.closeReason.Store(&reason)

	if reason.Kind == ReasonException || reason.Kind == ReasonProtocolViolation {
		logger.Info("连接异常关闭", "conn", c.shortID(), "peer", c.peerAddress.String(), "reason", reason.String())
	} else {
		logger.Debug("关闭连接", "conn", c.shortID(), "peer", c.peerAddress.String(), "reason", reason.String())
	}

	if task := c.readTask.Load(); task != nil {
		task.Cancel()
	}
	if err := c.socket.Close(); err != nil {
		logger.Debug("关闭 socket 失败", "conn", c.shortID(), "error", err)
	}

	evt := ClosedEvent{Conn: c, Reason: reason}
	notify := func() {
		c.closeDelivered.Store(true)
		if c.handler != nil {
			c.handler.OnEvent(evt)
		}
		for _, l := range c.takeListeners() {
			l.OnEvent(evt)
		}
	}
	if err := c.dispatcher.Submit(notify); err != nil {
		notify()
	}
}

// StopListening 停止向监听器投递消息，读循环继续运行以检测关闭
func (c *Connection) StopListening() {
	c.listening.Store(false)
}

// ============================================================================
//                              监听器
// ============================================================================

// AddListener 注册监听器，返回注销函数
//
// 在已关闭的连接上注册不会收到任何事件。
func (c *Connection) AddListener(l Listener) (remove func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.stopped.Load() && c.closeDelivered.Load() {
		return func() {}
	}
	c.nextListenerID++
	id := c.nextListenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, l: l})
	return func() { c.removeListener(id) }
}

func (c *Connection) removeListener(id uint64) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, e := range c.listeners {
		if e.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

// NumListeners 返回已注册的监听器数
func (c *Connection) NumListeners() int {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	return len(c.listeners)
}

func (c *Connection) snapshotListeners() []Listener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]Listener, len(c.listeners))
	for i, e := range c.listeners {
		out[i] = e.l
	}
	return out
}

func (c *Connection) takeListeners() []Listener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]Listener, len(c.listeners))
	for i, e := range c.listeners {
		out[i] = e.l
	}
	c.listeners = nil
	return out
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 返回连接 ID
func (c *Connection) ID() string { return c.id }

func (c *Connection) shortID() string { return types.ShortID(c.id) }

// Direction 返回连接方向
func (c *Connection) Direction() types.Direction { return c.direction }

// PeerCapability 返回对端能力
func (c *Connection) PeerCapability() types.Capability { return c.peerCapability }

// PeerAddress 返回对端地址
func (c *Connection) PeerAddress() types.Address { return c.peerAddress }

// PeerNetworkLoad 返回对端最近上报的负载
func (c *Connection) PeerNetworkLoad() types.NetworkLoad { return *c.peerLoad.Load() }

// SetPeerNetworkLoad 更新对端负载
func (c *Connection) SetPeerNetworkLoad(load types.NetworkLoad) { c.peerLoad.Store(&load) }

// IsPeerAddressVerified 出站连接总是已验证；入站连接需要 SetPeerAddressVerified
func (c *Connection) IsPeerAddressVerified() bool { return c.addressVerified.Load() }

// SetPeerAddressVerified 确认入站连接的对端地址
func (c *Connection) SetPeerAddressVerified() { c.addressVerified.Store(true) }

// Metrics 返回连接指标
func (c *Connection) Metrics() *Metrics { return c.metrics }

// IsRunning 报告连接是否未关闭
func (c *Connection) IsRunning() bool { return !c.stopped.Load() }

// CloseReason 返回关闭原因，连接未关闭时 ok 为 false
func (c *Connection) CloseReason() (CloseReason, bool) {
	if r := c.closeReason.Load(); r != nil {
		return *r, true
	}
	return CloseReason{}, false
}

// String 实现 fmt.Stringer
func (c *Connection) String() string {
	return fmt.Sprintf("Connection[%s %s %s]", c.shortID(), c.direction, c.peerAddress)
}
