package outbound

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/envelope"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// ChannelState 通道状态
type ChannelState int32

const (
	// StateConnecting 非阻塞 connect 进行中
	StateConnecting ChannelState = iota
	// StateHandshaking 已发送握手请求，等待回复
	StateHandshaking
	// StateActive 握手完成，可以收发消息
	StateActive
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名称
func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ChannelState(%d)", int32(s))
	}
}

// ChannelListener 通道事件监听器
//
// 同一通道的回调经分发器串行执行，OnClosed 总是最后一个。
type ChannelListener interface {
	OnMessage(ch *ConnectionChannel, env *protocol.NetworkEnvelope)
	OnClosed(ch *ConnectionChannel, reason connection.CloseReason)
}

type channelListenerEntry struct {
	id uint64
	l  ChannelListener
}

// ConnectionChannel 由 reactor 驱动的非阻塞出站连接
type ConnectionChannel struct {
	id          string
	fd          int
	peerAddress types.Address
	manager     *Manager
	metrics     *connection.Metrics

	state atomic.Int32

	// 握手完成后只读
	peerCapability types.Capability
	peerLoad       atomic.Pointer[types.NetworkLoad]

	// mu 保护写缓冲与关注事件的一致性
	mu       sync.Mutex
	writeBuf []byte

	// 只由 reactor 访问
	decoder envelope.Decoder

	closeReason    atomic.Pointer[connection.CloseReason]
	closeDelivered atomic.Bool

	listenersMu    sync.Mutex
	listeners      []channelListenerEntry
	nextListenerID uint64
}

func newChannel(m *Manager, fd int, addr types.Address) *ConnectionChannel {
	ch := &ConnectionChannel{
		id:          types.NewUID(),
		fd:          fd,
		peerAddress: addr,
		manager:     m,
		metrics:     connection.NewMetrics(m.clock),
	}
	load := types.InitialNetworkLoad
	ch.peerLoad.Store(&load)
	return ch
}

// Send 发送一条消息
//
// 消息编码后追加到写缓冲，由 reactor 在可写时刷出。通道关闭时返回
// connection.ErrConnectionClosed，握手未完成时返回 ErrNotActive。
func (ch *ConnectionChannel) Send(msg protocol.NetworkMessage) error {
	switch ch.State() {
	case StateClosed:
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), ch.peerAddress, connection.ErrConnectionClosed)
	case StateActive:
	default:
		return fmt.Errorf("send %s to %s: %w", msg.Kind(), ch.peerAddress, ErrNotActive)
	}
	token, err := ch.manager.deps.Authorization.CreateToken(msg, ch.peerAddress)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	frame, err := envelope.Encode(protocol.NewEnvelope(token, msg))
	if err != nil {
		return err
	}
	if err := ch.enqueue(frame); err != nil {
		return err
	}
	ch.metrics.RecordSent(len(frame))
	logger.Debug("消息进入发送队列", "channel", ch.shortID(), "kind", msg.Kind().String(), "bytes", len(frame))
	return nil
}

// enqueue 追加到写缓冲并关注可写事件
func (ch *ConnectionChannel) enqueue(frame []byte) error {
	ch.mu.Lock()
	if ch.State() == StateClosed {
		ch.mu.Unlock()
		return fmt.Errorf("enqueue to %s: %w", ch.peerAddress, connection.ErrConnectionClosed)
	}
	ch.writeBuf = append(ch.writeBuf, frame...)
	ch.manager.poller.set(ch.fd, evReadable|evWritable)
	ch.mu.Unlock()
	return ch.manager.poller.wake()
}

// flush 尽可能写出缓冲，只由 reactor 调用
func (ch *ConnectionChannel) flush() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for len(ch.writeBuf) > 0 {
		n, err := writeFd(ch.fd, ch.writeBuf)
		if n > 0 {
			ch.writeBuf = ch.writeBuf[n:]
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return err
		}
	}
	ch.writeBuf = nil
	if ch.State() != StateClosed {
		ch.manager.poller.set(ch.fd, evReadable)
	}
	return nil
}

// Pending 返回尚未写出的字节数
func (ch *ConnectionChannel) Pending() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.writeBuf)
}

// Close 关闭通道，重复调用无效
func (ch *ConnectionChannel) Close(reason connection.CloseReason) {
	ch.manager.closeChannel(ch, reason, nil)
}

// ============================================================================
//                              事件投递
// ============================================================================

func (ch *ConnectionChannel) deliver(env *protocol.NetworkEnvelope) {
	err := ch.manager.deps.Dispatcher.Submit(func() {
		if ch.closeDelivered.Load() || ch.State() == StateClosed {
			return
		}
		for _, l := range ch.snapshotListeners() {
			l.OnMessage(ch, env)
		}
	})
	if err != nil {
		logger.Debug("分发器已关闭，丢弃消息", "channel", ch.shortID(), "kind", env.Message.Kind().String())
	}
}

func (ch *ConnectionChannel) notifyClosed(reason connection.CloseReason) {
	notify := func() {
		ch.closeDelivered.Store(true)
		for _, l := range ch.takeListeners() {
			l.OnClosed(ch, reason)
		}
	}
	if err := ch.manager.deps.Dispatcher.Submit(notify); err != nil {
		notify()
	}
}

// AddListener 注册监听器，返回注销函数
func (ch *ConnectionChannel) AddListener(l ChannelListener) (remove func()) {
	ch.listenersMu.Lock()
	defer ch.listenersMu.Unlock()
	if ch.closeDelivered.Load() {
		return func() {}
	}
	ch.nextListenerID++
	id := ch.nextListenerID
	ch.listeners = append(ch.listeners, channelListenerEntry{id: id, l: l})
	return func() { ch.removeListener(id) }
}

func (ch *ConnectionChannel) removeListener(id uint64) {
	ch.listenersMu.Lock()
	defer ch.listenersMu.Unlock()
	for i, e := range ch.listeners {
		if e.id == id {
			ch.listeners = append(ch.listeners[:i:i], ch.listeners[i+1:]...)
			return
		}
	}
}

func (ch *ConnectionChannel) snapshotListeners() []ChannelListener {
	ch.listenersMu.Lock()
	defer ch.listenersMu.Unlock()
	out := make([]ChannelListener, len(ch.listeners))
	for i, e := range ch.listeners {
		out[i] = e.l
	}
	return out
}

func (ch *ConnectionChannel) takeListeners() []ChannelListener {
	out := ch.snapshotListeners()
	ch.listenersMu.Lock()
	ch.listeners = nil
	ch.listenersMu.Unlock()
	return out
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 返回通道 ID
func (ch *ConnectionChannel) ID() string { return ch.id }

func (ch *ConnectionChannel) shortID() string { return types.ShortID(ch.id) }

// State 返回当前状态
func (ch *ConnectionChannel) State() ChannelState { return ChannelState(ch.state.Load()) }

// IsActive 报告握手是否完成且未关闭
func (ch *ConnectionChannel) IsActive() bool { return ch.State() == StateActive }

// PeerAddress 返回拨号地址
func (ch *ConnectionChannel) PeerAddress() types.Address { return ch.peerAddress }

// PeerCapability 返回握手得到的对端能力
func (ch *ConnectionChannel) PeerCapability() types.Capability { return ch.peerCapability }

// PeerNetworkLoad 返回对端上报的负载
func (ch *ConnectionChannel) PeerNetworkLoad() types.NetworkLoad { return *ch.peerLoad.Load() }

// Metrics 返回通道计数器
func (ch *ConnectionChannel) Metrics() *connection.Metrics { return ch.metrics }

// CloseReason 返回关闭原因，未关闭时 ok 为 false
func (ch *ConnectionChannel) CloseReason() (connection.CloseReason, bool) {
	if r := ch.closeReason.Load(); r != nil {
		return *r, true
	}
	return connection.CloseReason{}, false
}

// String 实现 fmt.Stringer
func (ch *ConnectionChannel) String() string {
	return fmt.Sprintf("ConnectionChannel[%s %s %s]", ch.shortID(), ch.peerAddress, ch.State())
}
