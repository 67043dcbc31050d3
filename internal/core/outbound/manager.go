package outbound

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/envelope"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/handshake"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/outbound")

// maxReadsPerEvent 单次可读事件最多读取的次数，避免一个通道占满 reactor
const maxReadsPerEvent = 16

// Options 管理器参数
type Options struct {
	// PollTimeout 单次就绪等待的最长时间
	PollTimeout time.Duration
	// ReadBufferSize 每次读取的缓冲区大小
	ReadBufferSize int
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		PollTimeout:    time.Second,
		ReadBufferSize: 64 * 1024,
	}
}

// Dependencies 管理器依赖
type Dependencies struct {
	// Capability 返回本节点能力，用于握手与授权校验
	Capability    func() types.Capability
	Load          func() types.NetworkLoad
	Authorization pkgif.AuthorizationService
	// BanList 可选
	BanList    pkgif.BanList
	Dispatcher *executor.Dispatcher
	Clock      clock.Clock
}

func (d *Dependencies) validate() error {
	if d.Capability == nil || d.Authorization == nil || d.Dispatcher == nil {
		return ErrInvalidDependencies
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return nil
}

// ManagerListener 出站连接建立结果
type ManagerListener interface {
	OnNewConnection(ch *ConnectionChannel)
	OnConnectionFailed(addr types.Address, err error)
}

// Manager 出站连接管理器
//
// 创建非阻塞连接并处理 reactor 报告的就绪事件。Handle* 方法只能由
// reactor goroutine 调用。
type Manager struct {
	opts       Options
	deps       Dependencies
	clock      clock.Clock
	handshaker *handshake.Handshaker
	poller     *poller

	// 只由 reactor 使用
	readBuf []byte

	mu             sync.Mutex
	byFd           map[int]*ConnectionChannel
	connecting     map[string]*ConnectionChannel
	connected      map[string]*ConnectionChannel
	pendingClose   []int
	reactorRunning bool
	closed         bool

	active       atomic.Bool
	activated    chan struct{}
	activateOnce sync.Once

	listenersMu sync.RWMutex
	listeners   map[ManagerListener]struct{}
}

// NewManager 创建管理器
func NewManager(opts Options, deps Dependencies) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	defaults := DefaultOptions()
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaults.PollTimeout
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaults.ReadBufferSize
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	return &Manager{
		opts:  opts,
		deps:  deps,
		clock: deps.Clock,
		handshaker: handshake.New(handshake.Config{
			Capability:    deps.Capability,
			Load:          deps.Load,
			Authorization: deps.Authorization,
			BanList:       deps.BanList,
		}),
		poller:     p,
		readBuf:    make([]byte, opts.ReadBufferSize),
		byFd:       make(map[int]*ConnectionChannel),
		connecting: make(map[string]*ConnectionChannel),
		connected:  make(map[string]*ConnectionChannel),
		activated:  make(chan struct{}),
		listeners:  make(map[ManagerListener]struct{}),
	}, nil
}

// ============================================================================
//                              激活
// ============================================================================

// Activate 标记管理器可用，唤醒等待中的 reactor
func (m *Manager) Activate() {
	m.active.Store(true)
	m.activateOnce.Do(func() { close(m.activated) })
}

// IsActive 报告是否已激活
func (m *Manager) IsActive() bool { return m.active.Load() }

// Activated 激活时关闭
func (m *Manager) Activated() <-chan struct{} { return m.activated }

// ============================================================================
//                              建立连接
// ============================================================================

// CreateNewConnection 发起到 addr 的非阻塞连接
//
// 已有到 addr 的连接或连接尝试时不做任何事。结果通过 ManagerListener 通知。
func (m *Manager) CreateNewConnection(ctx context.Context, addr types.Address) error {
	if !addr.IsClear() {
		return fmt.Errorf("%w: %s", ErrUnsupportedTransport, addr)
	}
	if m.deps.BanList != nil && m.deps.BanList.IsBanned(addr) {
		return fmt.Errorf("%w: %s", handshake.ErrBanned, addr)
	}
	key := addr.FullAddress()
	if m.inProgress(key) {
		return nil
	}

	fd, err := dialNonblocking(ctx, addr)
	if err != nil {
		return err
	}

	ch := newChannel(m, fd, addr)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = closeFd(fd)
		return ErrManagerClosed
	}
	if m.connecting[key] != nil || m.connected[key] != nil {
		// 并发的调用已经先行
		m.mu.Unlock()
		_ = closeFd(fd)
		return nil
	}
	m.byFd[fd] = ch
	m.connecting[key] = ch
	m.poller.set(fd, evWritable)
	m.mu.Unlock()

	logger.Debug("发起出站连接", "peer", addr.String(), "channel", ch.shortID())
	if err := m.poller.wake(); err != nil {
		m.closeChannel(ch, connection.Exception(err), err)
		return err
	}
	return nil
}

func (m *Manager) inProgress(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connecting[key] != nil || m.connected[key] != nil
}

// ============================================================================
//                              就绪事件
// ============================================================================

func (m *Manager) handleEvent(ev readyEvent) {
	m.mu.Lock()
	ch := m.byFd[ev.fd]
	m.mu.Unlock()
	if ch == nil {
		// 通道已在本轮之前关闭
		logger.Debug("忽略已注销描述符的事件", "fd", ev.fd)
		return
	}

	if ev.events&evInvalid != 0 {
		logger.Debug("描述符无效", "peer", ch.peerAddress.String(), "channel", ch.shortID())
		m.closeChannel(ch, connection.Exception(ErrInvalidDescriptor), ErrInvalidDescriptor)
		return
	}

	if ch.State() == StateConnecting {
		if ev.events&(evWritable|evError|evHangup) != 0 {
			m.HandleConnectable(ch)
		}
		return
	}
	if ev.events&(evReadable|evError|evHangup) != 0 {
		m.HandleReadable(ch)
	}
	if ch.State() != StateClosed && ev.events&evWritable != 0 {
		m.HandleWritable(ch)
	}
}

// HandleConnectable 处理 connect 完成，成功后发送握手请求
func (m *Manager) HandleConnectable(ch *ConnectionChannel) {
	if err := socketError(ch.fd); err != nil {
		logger.Debug("出站连接失败", "peer", ch.peerAddress.String(), "error", err)
		m.closeChannel(ch, connection.Exception(err), err)
		return
	}

	req, err := m.handshaker.BuildRequest(ch.peerAddress)
	if err != nil {
		m.closeChannel(ch, connection.Exception(err), err)
		return
	}
	frame, err := envelope.Encode(req)
	if err != nil {
		m.closeChannel(ch, connection.Exception(err), err)
		return
	}
	ch.state.Store(int32(StateHandshaking))
	if err := ch.enqueue(frame); err != nil {
		m.closeChannel(ch, connection.Exception(err), err)
		return
	}
	logger.Debug("已发送握手请求", "peer", ch.peerAddress.String(), "channel", ch.shortID())
}

// HandleReadable 读取可用数据并解析 envelope
//
// 握手阶段收到的第一个 envelope 必须是握手回复；之后的消息投递给通道监听器。
func (m *Manager) HandleReadable(ch *ConnectionChannel) {
	eof := false
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := readFd(ch.fd, m.readBuf)
		if n > 0 {
			ch.decoder.Feed(m.readBuf[:n])
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			m.drain(ch)
			m.closeChannel(ch, connection.Exception(err), err)
			return
		}
		if n == 0 {
			eof = true
			break
		}
		if n < len(m.readBuf) {
			break
		}
	}

	m.drain(ch)
	if eof {
		m.closeChannel(ch, connection.PeerClosed(), io.EOF)
	}
}

func (m *Manager) drain(ch *ConnectionChannel) {
	for ch.State() != StateClosed {
		before := ch.decoder.Buffered()
		env, err := ch.decoder.Next()
		if err != nil {
			m.closeChannel(ch, connection.ProtocolViolation(err), err)
			return
		}
		if env == nil {
			return
		}
		if ch.State() == StateHandshaking {
			m.completeHandshake(ch, env)
			continue
		}
		ch.metrics.RecordReceived(before - ch.decoder.Buffered())
		m.handleMessage(ch, env)
	}
}

func (m *Manager) completeHandshake(ch *ConnectionChannel, env *protocol.NetworkEnvelope) {
	result, err := m.handshaker.VerifyResponse(env)
	if err != nil {
		logger.Info("出站握手失败", "peer", ch.peerAddress.String(), "error", err)
		m.closeChannel(ch, connection.ProtocolViolation(err), err)
		return
	}
	ch.peerCapability = result.PeerCapability
	load := result.PeerLoad
	ch.peerLoad.Store(&load)

	key := ch.peerAddress.FullAddress()
	m.mu.Lock()
	if m.connecting[key] == ch {
		delete(m.connecting, key)
	}
	existing := m.connected[key]
	duplicate := existing != nil && existing != ch
	if !duplicate {
		m.connected[key] = ch
		ch.state.Store(int32(StateActive))
	}
	m.mu.Unlock()

	if duplicate {
		logger.Debug("已有到该地址的出站连接，关闭新连接", "peer", ch.peerAddress.String())
		m.notifyNewConnection(existing)
		m.closeChannel(ch, connection.WithKind(connection.ReasonDuplicateConnection), nil)
		return
	}
	logger.Info("出站连接已建立", "peer", ch.peerAddress.String(), "channel", ch.shortID(),
		"features", fmt.Sprint(ch.peerCapability.Features))
	m.notifyNewConnection(ch)
}

func (m *Manager) handleMessage(ch *ConnectionChannel, env *protocol.NetworkEnvelope) {
	if env.Version != protocol.Version {
		err := fmt.Errorf("%w: received version %d, expected %d", connection.ErrVersionMismatch, env.Version, protocol.Version)
		logger.Warn("协议版本不一致，关闭通道", "peer", ch.peerAddress.String(), "version", env.Version)
		m.closeChannel(ch, connection.ProtocolViolation(err), err)
		return
	}
	if !m.deps.Authorization.IsAuthorized(env.Message, env.AuthorizationToken, m.deps.Capability().Address) {
		err := fmt.Errorf("%w: %s", ErrUnauthorized, env.Message.Kind())
		logger.Warn("消息授权校验失败，关闭通道", "peer", ch.peerAddress.String(), "kind", env.Message.Kind().String())
		m.closeChannel(ch, connection.ProtocolViolation(err), err)
		return
	}
	if logger.Enabled(log.LevelDebug) {
		logger.Debug("收到消息", "channel", ch.shortID(), "msg", log.Truncate(env.String(), 200))
	}

	switch msg := env.Message.(type) {
	case *protocol.CloseConnectionMessage:
		reason := connection.PeerClosed()
		if kind, ok := connection.ParseReasonKind(msg.Reason); ok {
			reason = connection.WithKind(kind)
		}
		logger.Info("对端请求关闭连接", "peer", ch.peerAddress.String(), "reason", msg.Reason)
		m.closeChannel(ch, reason, nil)
		return
	case *protocol.Ping:
		if err := ch.Send(&protocol.Pong{RequestNonce: msg.Nonce}); err != nil {
			logger.Debug("回复 Pong 失败", "peer", ch.peerAddress.String(), "error", err)
		}
	}
	ch.deliver(env)
}

// HandleWritable 刷出写缓冲
func (m *Manager) HandleWritable(ch *ConnectionChannel) {
	if err := ch.flush(); err != nil {
		m.closeChannel(ch, connection.Exception(err), err)
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// closeChannel 关闭通道并注销描述符
//
// reactor 运行时描述符延迟到两次 poll 之间关闭。握手完成前关闭视为
// 连接失败，通知 ManagerListener；之后关闭通知通道监听器。
func (m *Manager) closeChannel(ch *ConnectionChannel, reason connection.CloseReason, cause error) {
	prev := ChannelState(ch.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return
	}
	ch.closeReason.Store(&reason)

	ch.mu.Lock()
	if prev == StateActive && len(ch.writeBuf) > 0 {
		// 尽力写出剩余数据，例如关闭消息
		_, _ = writeFd(ch.fd, ch.writeBuf)
	}
	ch.writeBuf = nil
	m.poller.remove(ch.fd)
	ch.mu.Unlock()

	key := ch.peerAddress.FullAddress()
	m.mu.Lock()
	delete(m.byFd, ch.fd)
	if m.connecting[key] == ch {
		delete(m.connecting, key)
	}
	if m.connected[key] == ch {
		delete(m.connected, key)
	}
	deferClose := m.reactorRunning
	if deferClose {
		m.pendingClose = append(m.pendingClose, ch.fd)
	}
	m.mu.Unlock()

	if deferClose {
		_ = m.poller.wake()
	} else if err := closeFd(ch.fd); err != nil {
		logger.Debug("关闭描述符失败", "fd", ch.fd, "error", err)
	}

	if prev == StateActive {
		logger.Debug("关闭出站通道", "peer", ch.peerAddress.String(), "channel", ch.shortID(), "reason", reason.String())
		ch.notifyClosed(reason)
		return
	}
	err := cause
	if err == nil {
		err = fmt.Errorf("connection attempt closed: %s", reason)
	}
	m.notifyFailed(ch.peerAddress, err)
}

// reap 关闭延迟的描述符，只由 reactor 在两次 poll 之间调用
func (m *Manager) reap() {
	m.mu.Lock()
	fds := m.pendingClose
	m.pendingClose = nil
	m.mu.Unlock()
	for _, fd := range fds {
		if err := closeFd(fd); err != nil {
			logger.Debug("关闭描述符失败", "fd", fd, "error", err)
		}
	}
}

func (m *Manager) setReactorRunning(running bool) {
	m.mu.Lock()
	m.reactorRunning = running
	m.mu.Unlock()
	if !running {
		m.reap()
	}
}

// Close 向所有活跃通道发送关闭消息并关闭全部通道
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := make([]*ConnectionChannel, 0, len(m.byFd))
	for _, ch := range m.byFd {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		if ch.IsActive() {
			_ = ch.Send(&protocol.CloseConnectionMessage{Reason: connection.ReasonShutdown.String()})
		}
		m.closeChannel(ch, connection.Shutdown(), ErrManagerClosed)
	}
	m.reap()
	logger.Debug("出站连接管理器已关闭", "channels", len(channels))
	return m.poller.close()
}

// ============================================================================
//                              查询与监听器
// ============================================================================

// Connection 返回到 addr 的活跃通道
func (m *Manager) Connection(addr types.Address) (*ConnectionChannel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.connected[addr.FullAddress()]
	if !ok || !ch.IsActive() {
		return nil, false
	}
	return ch, true
}

// AllOutboundConnections 返回所有活跃通道
func (m *Manager) AllOutboundConnections() []*ConnectionChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ConnectionChannel, 0, len(m.connected))
	for _, ch := range m.connected {
		if ch.IsActive() {
			out = append(out, ch)
		}
	}
	return out
}

// NumConnecting 返回进行中的连接尝试数
func (m *Manager) NumConnecting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connecting)
}

// AddListener 注册监听器
func (m *Manager) AddListener(l ManagerListener) {
	m.listenersMu.Lock()
	m.listeners[l] = struct{}{}
	m.listenersMu.Unlock()
}

// RemoveListener 注销监听器
func (m *Manager) RemoveListener(l ManagerListener) {
	m.listenersMu.Lock()
	delete(m.listeners, l)
	m.listenersMu.Unlock()
}

func (m *Manager) snapshotListeners() []ManagerListener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	out := make([]ManagerListener, 0, len(m.listeners))
	for l := range m.listeners {
		out = append(out, l)
	}
	return out
}

func (m *Manager) notifyNewConnection(ch *ConnectionChannel) {
	for _, l := range m.snapshotListeners() {
		l.OnNewConnection(ch)
	}
}

func (m *Manager) notifyFailed(addr types.Address, err error) {
	for _, l := range m.snapshotListeners() {
		l.OnConnectionFailed(addr, err)
	}
}
