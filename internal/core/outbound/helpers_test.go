//go:build linux || darwin

package outbound

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/authz"
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/transport/tcp"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

type fixture struct {
	auth       *authz.HashCashService
	pool       *executor.Pool
	dispatcher *executor.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth, err := authz.NewHashCashService(0)
	require.NoError(t, err)
	f := &fixture{
		auth:       auth,
		pool:       executor.NewPool("test", 64),
		dispatcher: executor.NewDispatcher(),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.pool.Close(ctx)
		_ = f.dispatcher.Close(ctx)
	})
	return f
}

// responder 启动一个接受入站连接的节点
func (f *fixture) responder(t *testing.T, nodeID string) (*node.Node, *nodeRecorder) {
	t.Helper()
	transport := tcp.NewTransport(tcp.DefaultOptions())
	t.Cleanup(func() { _ = transport.Close() })

	opts := node.DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
	opts.SendTimeout = 2 * time.Second
	networkID := types.NewNetworkId(
		types.AddressByTransportTypeMap{types.TransportClear: types.NewAddress("127.0.0.1", 0)},
		types.PubKey{KeyID: nodeID, PublicKey: []byte(nodeID)},
		nodeID,
	)
	n, err := node.New(networkID, false, opts, node.Dependencies{
		Transport:     transport,
		Authorization: f.auth,
		Pool:          f.pool,
		Dispatcher:    f.dispatcher,
	})
	require.NoError(t, err)
	rec := &nodeRecorder{}
	n.AddListener(rec)
	require.NoError(t, n.Initialize(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n, rec
}

// multiplexer 创建以 port 为声明地址的复用器，activate 为 true 时立即激活
func (f *fixture) multiplexer(t *testing.T, port int, activate bool) *Multiplexer {
	t.Helper()
	capability := types.NewCapability(
		types.NewAddress("127.0.0.1", port),
		[]types.TransportType{types.TransportClear},
		[]types.Feature{types.FeatureInventoryHashSet},
	)
	m, err := NewManager(Options{PollTimeout: 50 * time.Millisecond}, Dependencies{
		Capability:    func() types.Capability { return capability },
		Authorization: f.auth,
		Dispatcher:    f.dispatcher,
	})
	require.NoError(t, err)
	x := NewMultiplexer(m)
	require.NoError(t, x.Start())
	if activate {
		m.Activate()
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = x.Shutdown(ctx)
	})
	return x
}

func await(t *testing.T, fut *ChannelFuture) (*ConnectionChannel, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return fut.Await(ctx)
}

// freePort 返回一个当前未监听的端口
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// nodeRecorder 记录响应方节点收到的事件
type nodeRecorder struct {
	node.NoopListener

	mu          sync.Mutex
	messages    []protocol.NetworkMessage
	connections []*connection.Connection
}

func (r *nodeRecorder) OnMessage(msg protocol.NetworkMessage, _ *connection.Connection, _ types.NetworkId) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *nodeRecorder) OnConnection(conn *connection.Connection) {
	r.mu.Lock()
	r.connections = append(r.connections, conn)
	r.mu.Unlock()
}

func (r *nodeRecorder) numConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

func (r *nodeRecorder) kinds() []protocol.MessageKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MessageKind, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Kind()
	}
	return out
}

// channelRecorder 记录通道事件
type channelRecorder struct {
	mu       sync.Mutex
	messages []protocol.NetworkMessage
	reasons  []connection.CloseReason
	closed   chan struct{}
	once     sync.Once
}

func newChannelRecorder() *channelRecorder {
	return &channelRecorder{closed: make(chan struct{})}
}

func (r *channelRecorder) OnMessage(_ *ConnectionChannel, env *protocol.NetworkEnvelope) {
	r.mu.Lock()
	r.messages = append(r.messages, env.Message)
	r.mu.Unlock()
}

func (r *channelRecorder) OnClosed(_ *ConnectionChannel, reason connection.CloseReason) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.once.Do(func() { close(r.closed) })
}

func (r *channelRecorder) snapshot() ([]protocol.NetworkMessage, []connection.CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.NetworkMessage(nil), r.messages...), append([]connection.CloseReason(nil), r.reasons...)
}

func (r *channelRecorder) waitClosed(t *testing.T) connection.CloseReason {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed")
	}
	_, reasons := r.snapshot()
	return reasons[0]
}
