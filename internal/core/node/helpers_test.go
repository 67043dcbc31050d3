package node

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/authz"
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// loopbackTransport 127.0.0.1 上的 TCP 传输
type loopbackTransport struct{}

func (loopbackTransport) Type() types.TransportType { return types.TransportClear }

func (loopbackTransport) Dial(ctx context.Context, addr types.Address) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr.FullAddress())
}

func (loopbackTransport) Listen(_ context.Context, port int) (net.Listener, types.Address, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, types.Address{}, err
	}
	return ln, types.NewAddress("127.0.0.1", ln.Addr().(*net.TCPAddr).Port), nil
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	auth, err := authz.NewHashCashService(0)
	require.NoError(t, err)
	pool := executor.NewPool("test", 64)
	dispatcher := executor.NewDispatcher()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Close(ctx)
		_ = dispatcher.Close(ctx)
	})
	return Dependencies{
		Transport:     loopbackTransport{},
		Authorization: auth,
		Pool:          pool,
		Dispatcher:    dispatcher,
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
	opts.SendTimeout = 2 * time.Second
	opts.ShutdownTimeout = 2 * time.Second
	return opts
}

func testNetworkID(nodeID string) types.NetworkId {
	return types.NewNetworkId(
		types.AddressByTransportTypeMap{types.TransportClear: types.NewAddress("127.0.0.1", 0)},
		types.PubKey{KeyID: nodeID, PublicKey: []byte(nodeID)},
		nodeID,
	)
}

func startNode(t *testing.T, nodeID string, opts Options, deps Dependencies) (*Node, *recorder) {
	t.Helper()
	n, err := New(testNetworkID(nodeID), false, opts, deps)
	require.NoError(t, err)
	rec := newRecorder()
	n.AddListener(rec)
	require.NoError(t, n.Initialize(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n, rec
}

type disconnect struct {
	conn   *connection.Connection
	reason connection.CloseReason
}

// recorder 记录 Listener 回调
type recorder struct {
	mu          sync.Mutex
	messages    []protocol.NetworkMessage
	connections []*connection.Connection
	disconnects []disconnect
	shutdowns   int
	order       []string
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) OnMessage(msg protocol.NetworkMessage, _ *connection.Connection, _ types.NetworkId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.order = append(r.order, "message")
}

func (r *recorder) OnConnection(conn *connection.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, conn)
	r.order = append(r.order, "connection")
}

func (r *recorder) OnDisconnect(conn *connection.Connection, reason connection.CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, disconnect{conn, reason})
	r.order = append(r.order, "disconnect")
}

func (r *recorder) OnShutdown(*Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns++
}

func (r *recorder) numMessages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) numConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

func (r *recorder) numShutdowns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdowns
}

func (r *recorder) firstDisconnect() (disconnect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.disconnects) == 0 {
		return disconnect{}, false
	}
	return r.disconnects[0], true
}

func (r *recorder) messageKinds() []protocol.MessageKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.MessageKind, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Kind()
	}
	return out
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// nodeRecorder 记录 NodeListener 回调
type nodeRecorder struct {
	mu      sync.Mutex
	added   int
	removed int
}

func (r *nodeRecorder) OnNodeAdded(*Node) {
	r.mu.Lock()
	r.added++
	r.mu.Unlock()
}

func (r *nodeRecorder) OnNodeRemoved(*Node) {
	r.mu.Lock()
	r.removed++
	r.mu.Unlock()
}

func (r *nodeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added, r.removed
}
