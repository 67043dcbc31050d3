package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/envelope"
	"github.com/dep2p/go-netsync/internal/core/handshake"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/node")

// Node 绑定到一个 NetworkId 的网络节点
type Node struct {
	networkID  types.NetworkId
	isDefault  bool
	opts       Options
	deps       Dependencies
	handshaker *handshake.Handshaker

	state      atomic.Int32
	initMu     sync.Mutex
	capability atomic.Pointer[types.Capability]
	listener   net.Listener
	acceptDone chan struct{}

	dials singleflight.Group
	// life 在 Shutdown 时取消，拨号不随单个调用方取消
	life     context.Context
	stopLife context.CancelFunc

	mu       sync.RWMutex
	outbound map[string]*connection.Connection
	inbound  map[string]*connection.Connection

	listenersMu sync.RWMutex
	listeners   map[Listener]struct{}

	emitOpened pkgif.Emitter
	emitClosed pkgif.Emitter
}

var _ connection.Handler = (*Node)(nil)

// New 创建节点，调用 Initialize 后才开始监听
func New(networkID types.NetworkId, isDefault bool, opts Options, deps Dependencies) (*Node, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	n := &Node{
		networkID: networkID,
		isDefault: isDefault,
		opts:      opts,
		deps:      deps,
		outbound:  make(map[string]*connection.Connection),
		inbound:   make(map[string]*connection.Connection),
		listeners: make(map[Listener]struct{}),
	}
	n.life, n.stopLife = context.WithCancel(context.Background())
	// 监听前使用 NetworkId 中声明的地址
	addr, _ := networkID.AddressByTransportType().Find(opts.TransportType)
	initial := types.NewCapability(addr, []types.TransportType{opts.TransportType}, opts.Features)
	n.capability.Store(&initial)

	n.handshaker = handshake.New(handshake.Config{
		Capability:    n.Capability,
		Load:          n.NetworkLoad,
		Authorization: deps.Authorization,
		BanList:       deps.BanList,
	})

	if deps.EventBus != nil {
		var err error
		if n.emitOpened, err = deps.EventBus.Emitter(new(types.EvtConnectionOpened)); err != nil {
			return nil, fmt.Errorf("create emitter: %w", err)
		}
		if n.emitClosed, err = deps.EventBus.Emitter(new(types.EvtConnectionClosed)); err != nil {
			return nil, fmt.Errorf("create emitter: %w", err)
		}
	}
	return n, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Initialize 开始监听入站连接，已运行时直接返回
func (n *Node) Initialize(ctx context.Context) error {
	n.initMu.Lock()
	defer n.initMu.Unlock()

	switch n.State() {
	case StateRunning:
		return nil
	case StateStopping, StateTerminated:
		return ErrNodeShutdown
	}
	n.setState(StateStarting)

	ln, addr, err := n.deps.Transport.Listen(ctx, n.opts.ListenPort)
	if err != nil {
		n.setState(StateNew)
		return fmt.Errorf("listen on port %d: %w", n.opts.ListenPort, err)
	}
	capability := types.NewCapability(addr, []types.TransportType{n.opts.TransportType}, n.opts.Features)
	n.capability.Store(&capability)

	n.listener = ln
	n.acceptDone = make(chan struct{})
	go n.acceptLoop(ln, n.acceptDone)

	n.setState(StateRunning)
	logger.Info("节点已启动", "networkId", n.networkID.String(), "address", addr.String(), "default", n.isDefault)
	return nil
}

// Shutdown 关闭节点
//
// 尽力向每个对端发送 CloseConnectionMessage，然后以 SHUTDOWN 关闭所有连接，
// 停止监听并通知 OnShutdown。ctx 到期时强制关闭剩余连接并返回 ctx 错误。
func (n *Node) Shutdown(ctx context.Context) error {
	n.initMu.Lock()
	prev := n.State()
	if prev == StateStopping || prev == StateTerminated {
		n.initMu.Unlock()
		return nil
	}
	n.setState(StateStopping)
	ln, acceptDone := n.listener, n.acceptDone
	n.initMu.Unlock()
	n.stopLife()

	logger.Info("正在关闭节点", "networkId", n.networkID.String(), "connections", n.NumConnections())

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			logger.Debug("关闭监听器失败", "error", cerr)
		}
	}

	conns := n.AllConnections()
	g := new(errgroup.Group)
	for _, conn := range conns {
		g.Go(func() error {
			n.closeWithMessage(conn, connection.Shutdown())
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		if acceptDone != nil {
			<-acceptDone
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown node %s: %w", n.networkID.NodeID(), ctx.Err())
		for _, conn := range conns {
			conn.Close(connection.Shutdown())
		}
	}

	n.setState(StateTerminated)
	for _, l := range n.takeListeners() {
		l.OnShutdown(n)
	}
	logger.Info("节点已关闭", "networkId", n.networkID.String())
	return err
}

// ============================================================================
//                              入站
// ============================================================================

func (n *Node) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)
	for {
		raw, err := ln.Accept()
		if err != nil {
			if n.State() >= StateStopping || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			logger.Warn("接受连接失败，停止监听", "error", err)
			return
		}
		if _, err := n.deps.Pool.Submit(func(context.Context) { n.acceptConn(raw) }); err != nil {
			_ = raw.Close()
		}
	}
}

func (n *Node) acceptConn(raw net.Conn) {
	sock := envelope.NewSocket(raw)
	result, err := n.handshaker.Accept(sock, n.opts.HandshakeTimeout)
	if err != nil {
		logger.Info("入站握手失败", "remote", raw.RemoteAddr().String(), "error", err)
		_ = sock.Close()
		return
	}
	conn, err := n.newConnection(sock, types.DirInbound, result, result.PeerCapability.Address)
	if err != nil {
		logger.Warn("创建入站连接失败", "error", err)
		_ = sock.Close()
		return
	}
	if _, err := n.register(conn); err != nil {
		logger.Debug("入站连接被拒绝", "peer", conn.PeerAddress().String(), "error", err)
	}
}

// ============================================================================
//                              出站
// ============================================================================

// GetConnection 返回到 addr 的连接，不存在时拨号并握手
//
// 对同一地址的并发调用只拨号一次。拨号使用节点自身的 context，以
// HandshakeTimeout 为限；每个调用方只在自己的 ctx 内等待结果。
func (n *Node) GetConnection(ctx context.Context, addr types.Address) (*connection.Connection, error) {
	if err := n.assertRunning(); err != nil {
		return nil, err
	}
	if conn, ok := n.FindConnection(addr); ok {
		return conn, nil
	}
	ch := n.dials.DoChan(addr.FullAddress(), func() (any, error) {
		if conn, ok := n.FindConnection(addr); ok {
			return conn, nil
		}
		dialCtx, cancel := context.WithTimeout(n.life, n.opts.HandshakeTimeout)
		defer cancel()
		return n.dial(dialCtx, addr)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*connection.Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) dial(ctx context.Context, addr types.Address) (*connection.Connection, error) {
	if n.deps.BanList != nil && n.deps.BanList.IsBanned(addr) {
		return nil, fmt.Errorf("%w: %s", handshake.ErrBanned, addr)
	}
	raw, err := n.deps.Transport.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	timeout := n.opts.HandshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	sock := envelope.NewSocket(raw)
	result, err := n.handshaker.Initiate(sock, addr, timeout)
	if err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	conn, err := n.newConnection(sock, types.DirOutbound, result, addr)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	logger.Debug("出站连接已建立", "peer", addr.String(), "conn", types.ShortID(conn.ID()))
	return n.register(conn)
}

func (n *Node) newConnection(sock *envelope.Socket, dir types.Direction, result handshake.Result, peer types.Address) (*connection.Connection, error) {
	return connection.New(connection.Config{
		Direction:      dir,
		Socket:         sock,
		PeerCapability: result.PeerCapability,
		PeerLoad:       result.PeerLoad,
		PeerAddress:    peer,
		Handler:        n,
		Pool:           n.deps.Pool,
		Dispatcher:     n.deps.Dispatcher,
		Clock:          n.deps.Clock,
		SendTimeout:    n.opts.SendTimeout,
	})
}

// register 登记握手完成的连接并启动读循环
//
// 出站重复连接返回已有连接；入站重复或超限的连接被拒绝并关闭。
func (n *Node) register(conn *connection.Connection) (*connection.Connection, error) {
	key := conn.PeerAddress().FullAddress()

	n.mu.Lock()
	if n.State() != StateRunning {
		n.mu.Unlock()
		n.closeWithMessage(conn, connection.Shutdown())
		return nil, ErrNodeShutdown
	}
	byAddr := n.inbound
	if conn.Direction() == types.DirOutbound {
		byAddr = n.outbound
	}
	if existing, ok := byAddr[key]; ok && existing.IsRunning() {
		n.mu.Unlock()
		n.closeWithMessage(conn, connection.WithKind(connection.ReasonDuplicateConnection))
		if conn.Direction() == types.DirOutbound {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, key)
	}
	if conn.Direction() == types.DirInbound && len(n.inbound)+len(n.outbound) >= n.opts.MaxConnections {
		n.mu.Unlock()
		logger.Info("连接数已达上限，拒绝入站连接", "peer", key, "max", n.opts.MaxConnections)
		n.closeWithMessage(conn, connection.WithKind(connection.ReasonTooManyConnections))
		return nil, ErrTooManyConnections
	}
	byAddr[key] = conn
	numConns := len(n.inbound) + len(n.outbound)
	n.mu.Unlock()

	listeners := n.snapshotListeners()
	if err := n.deps.Dispatcher.Submit(func() {
		for _, l := range listeners {
			l.OnConnection(conn)
		}
	}); err != nil {
		logger.Debug("分发器已关闭", "error", err)
	}
	if n.emitOpened != nil {
		_ = n.emitOpened.Emit(types.EvtConnectionOpened{
			BaseEvent:    types.NewBaseEvent("connection.opened"),
			ConnectionID: conn.ID(),
			Peer:         conn.PeerAddress(),
			Direction:    conn.Direction(),
			NumConns:     numConns,
		})
	}
	logger.Info("连接已建立", "peer", key, "direction", conn.Direction().String(), "connections", numConns)

	if err := conn.Start(); err != nil {
		return nil, err
	}
	return conn, nil
}

// ============================================================================
//                              发送
// ============================================================================

// Send 获取到 addr 的连接并发送消息
func (n *Node) Send(ctx context.Context, msg protocol.NetworkMessage, addr types.Address) (*connection.Connection, error) {
	conn, err := n.GetConnection(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := n.SendOn(msg, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// SendOn 在指定连接上发送消息，附带发往对端地址的授权令牌
func (n *Node) SendOn(msg protocol.NetworkMessage, conn *connection.Connection) error {
	token, err := n.deps.Authorization.CreateToken(msg, conn.PeerAddress())
	if err != nil {
		return fmt.Errorf("create token for %s: %w", msg.Kind(), err)
	}
	return conn.Send(msg, token)
}

// closeWithMessage 尽力通知对端关闭原因后关闭连接
func (n *Node) closeWithMessage(conn *connection.Connection, reason connection.CloseReason) {
	if conn.IsRunning() {
		msg := &protocol.CloseConnectionMessage{Reason: reason.Kind.String()}
		if err := n.SendOn(msg, conn); err != nil {
			logger.Debug("发送关闭消息失败", "peer", conn.PeerAddress().String(), "error", err)
		}
	}
	conn.Close(reason)
}

// ============================================================================
//                              连接事件
// ============================================================================

// OnEvent 实现 connection.Handler
func (n *Node) OnEvent(evt connection.Event) {
	switch e := evt.(type) {
	case connection.MessageEvent:
		n.handleMessage(e)
	case connection.ClosedEvent:
		n.handleClosed(e)
	}
}

func (n *Node) handleMessage(e connection.MessageEvent) {
	conn, env := e.Conn, e.Envelope
	if !n.deps.Authorization.IsAuthorized(env.Message, env.AuthorizationToken, n.Capability().Address) {
		logger.Warn("消息授权校验失败，关闭连接", "peer", conn.PeerAddress().String(), "kind", env.Message.Kind().String())
		conn.Close(connection.ProtocolViolation(&connection.Error{Conn: conn, Reason: env.Message.Kind().String(), Err: ErrUnauthorized}))
		return
	}

	switch msg := env.Message.(type) {
	case *protocol.CloseConnectionMessage:
		reason := connection.PeerClosed()
		if kind, ok := connection.ParseReasonKind(msg.Reason); ok {
			reason = connection.WithKind(kind)
		}
		logger.Info("对端请求关闭连接", "peer", conn.PeerAddress().String(), "reason", msg.Reason)
		conn.Close(reason)
		return
	case *protocol.Ping:
		n.replyPong(conn, msg.Nonce)
	}

	for _, l := range n.snapshotListeners() {
		l.OnMessage(env.Message, conn, n.networkID)
	}
}

func (n *Node) replyPong(conn *connection.Connection, nonce int32) {
	_, err := n.deps.Pool.Submit(func(context.Context) {
		if err := n.SendOn(&protocol.Pong{RequestNonce: nonce}, conn); err != nil {
			logger.Debug("回复 Pong 失败", "peer", conn.PeerAddress().String(), "error", err)
		}
	})
	if err != nil {
		logger.Debug("I/O 池已关闭，丢弃 Pong", "error", err)
	}
}

func (n *Node) handleClosed(e connection.ClosedEvent) {
	conn := e.Conn
	key := conn.PeerAddress().FullAddress()

	n.mu.Lock()
	byAddr := n.inbound
	if conn.Direction() == types.DirOutbound {
		byAddr = n.outbound
	}
	registered := byAddr[key] == conn
	if registered {
		delete(byAddr, key)
	}
	n.mu.Unlock()

	if !registered {
		return
	}
	for _, l := range n.snapshotListeners() {
		l.OnDisconnect(conn, e.Reason)
	}
	if n.emitClosed != nil {
		_ = n.emitClosed.Emit(types.EvtConnectionClosed{
			BaseEvent:    types.NewBaseEvent("connection.closed"),
			ConnectionID: conn.ID(),
			Peer:         conn.PeerAddress(),
			Direction:    conn.Direction(),
			Reason:       e.Reason.String(),
			Duration:     conn.Metrics().Age(),
		})
	}
}

// ============================================================================
//                              监听器
// ============================================================================

// AddListener 注册监听器
func (n *Node) AddListener(l Listener) {
	n.listenersMu.Lock()
	n.listeners[l] = struct{}{}
	n.listenersMu.Unlock()
}

// RemoveListener 注销监听器
func (n *Node) RemoveListener(l Listener) {
	n.listenersMu.Lock()
	delete(n.listeners, l)
	n.listenersMu.Unlock()
}

func (n *Node) snapshotListeners() []Listener {
	n.listenersMu.RLock()
	defer n.listenersMu.RUnlock()
	out := make([]Listener, 0, len(n.listeners))
	for l := range n.listeners {
		out = append(out, l)
	}
	return out
}

func (n *Node) takeListeners() []Listener {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()
	out := make([]Listener, 0, len(n.listeners))
	for l := range n.listeners {
		out = append(out, l)
	}
	n.listeners = make(map[Listener]struct{})
	return out
}

// ============================================================================
//                              访问器
// ============================================================================

// NetworkID 返回节点身份
func (n *Node) NetworkID() types.NetworkId { return n.networkID }

// IsDefault 报告是否为默认节点
func (n *Node) IsDefault() bool { return n.isDefault }

// State 返回当前状态
func (n *Node) State() State { return State(n.state.Load()) }

func (n *Node) setState(s State) {
	old := State(n.state.Swap(int32(s)))
	if old != s {
		logger.Debug("节点状态变化", "nodeId", n.networkID.NodeID(), "from", old.String(), "to", s.String())
	}
}

// IsInitialized 报告节点是否处于运行状态
func (n *Node) IsInitialized() bool { return n.State() == StateRunning }

func (n *Node) assertRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopping, StateTerminated:
		return ErrNodeShutdown
	default:
		return ErrNotInitialized
	}
}

// Capability 返回本节点当前声明的能力
func (n *Node) Capability() types.Capability { return *n.capability.Load() }

// NetworkLoad 返回本节点当前负载
func (n *Node) NetworkLoad() types.NetworkLoad {
	load := types.InitialNetworkLoad
	num := n.NumConnections()
	if num > 0 {
		load.NumConnections = int32(num)
	}
	if n.opts.MaxConnections > 0 {
		load.LoadFactor = float64(num) / float64(n.opts.MaxConnections)
	}
	return load
}

// FindConnection 查找到 addr 的运行中连接，优先出站
func (n *Node) FindConnection(addr types.Address) (*connection.Connection, bool) {
	key := addr.FullAddress()
	n.mu.RLock()
	defer n.mu.RUnlock()
	if conn, ok := n.outbound[key]; ok && conn.IsRunning() {
		return conn, true
	}
	if conn, ok := n.inbound[key]; ok && conn.IsRunning() {
		return conn, true
	}
	return nil, false
}

// NumConnections 返回已注册的连接数
func (n *Node) NumConnections() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.inbound) + len(n.outbound)
}

// AllConnections 返回所有已注册连接的快照
func (n *Node) AllConnections() []*connection.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(n.inbound)+len(n.outbound))
	for _, c := range n.outbound {
		out = append(out, c)
	}
	for _, c := range n.inbound {
		out = append(out, c)
	}
	return out
}

// String 实现 fmt.Stringer
func (n *Node) String() string {
	return fmt.Sprintf("Node[%s %s]", n.networkID.NodeID(), n.State())
}
