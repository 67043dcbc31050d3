package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/banlist"
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/handshake"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

func TestNode_ConnectAndExchange(t *testing.T) {
	deps := testDeps(t)
	alice, aliceRec := startNode(t, "alice", testOptions(), deps)
	bob, bobRec := startNode(t, "bob", testOptions(), deps)

	ctx := context.Background()
	conn, err := alice.GetConnection(ctx, bob.Capability().Address)
	require.NoError(t, err)
	assert.Equal(t, types.DirOutbound, conn.Direction())
	assert.Equal(t, bob.Capability().Address, conn.PeerCapability().Address)

	same, err := alice.GetConnection(ctx, bob.Capability().Address)
	require.NoError(t, err)
	assert.Same(t, conn, same)

	require.NoError(t, alice.SendOn(&protocol.Ping{Nonce: 7}, conn))

	// bob 收到 Ping 并自动回复 Pong
	require.Eventually(t, func() bool { return bobRec.numMessages() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return aliceRec.numMessages() == 1 }, waitFor, tick)
	assert.Equal(t, []protocol.MessageKind{protocol.KindPing}, bobRec.messageKinds())
	assert.Equal(t, []protocol.MessageKind{protocol.KindPong}, aliceRec.messageKinds())

	// OnConnection 先于该连接的消息
	assert.Equal(t, []string{"connection", "message"}, bobRec.events())
	assert.Equal(t, 1, aliceRec.numConnections())
	assert.Equal(t, 1, bob.NumConnections())

	inbound, ok := bob.FindConnection(alice.Capability().Address)
	require.True(t, ok)
	assert.Equal(t, types.DirInbound, inbound.Direction())
	assert.False(t, inbound.IsPeerAddressVerified())
}

func TestNode_GetConnectionRequiresInitialize(t *testing.T) {
	n, err := New(testNetworkID("idle"), false, testOptions(), testDeps(t))
	require.NoError(t, err)

	_, err = n.GetConnection(context.Background(), types.NewAddress("127.0.0.1", 1))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, StateNew, n.State())
}

func TestNode_InitializeIsIdempotent(t *testing.T) {
	n, _ := startNode(t, "alice", testOptions(), testDeps(t))
	addr := n.Capability().Address
	require.NoError(t, n.Initialize(context.Background()))
	assert.Equal(t, addr, n.Capability().Address)
	assert.NotZero(t, addr.Port)
}

func TestNode_UnauthorizedMessageClosesConnection(t *testing.T) {
	deps := testDeps(t)
	alice, _ := startNode(t, "alice", testOptions(), deps)
	bob, bobRec := startNode(t, "bob", testOptions(), deps)

	conn, err := alice.GetConnection(context.Background(), bob.Capability().Address)
	require.NoError(t, err)

	// 绕过 SendOn，不附带令牌
	require.NoError(t, conn.Send(&protocol.Ping{Nonce: 1}, protocol.AuthorizationToken{}))

	require.Eventually(t, func() bool {
		_, ok := bobRec.firstDisconnect()
		return ok
	}, waitFor, tick)
	d, _ := bobRec.firstDisconnect()
	assert.Equal(t, connection.ReasonProtocolViolation, d.reason.Kind)
	assert.ErrorIs(t, d.reason.Cause, ErrUnauthorized)
	assert.Equal(t, 0, bobRec.numMessages())

	require.Eventually(t, func() bool { return !conn.IsRunning() }, waitFor, tick)
}

func TestNode_CloseConnectionMessage(t *testing.T) {
	deps := testDeps(t)
	alice, _ := startNode(t, "alice", testOptions(), deps)
	bob, bobRec := startNode(t, "bob", testOptions(), deps)

	conn, err := alice.GetConnection(context.Background(), bob.Capability().Address)
	require.NoError(t, err)
	require.NoError(t, alice.SendOn(&protocol.CloseConnectionMessage{Reason: "BANNED"}, conn))

	require.Eventually(t, func() bool {
		_, ok := bobRec.firstDisconnect()
		return ok
	}, waitFor, tick)
	d, _ := bobRec.firstDisconnect()
	assert.Equal(t, connection.ReasonBanned, d.reason.Kind)
	assert.Equal(t, 0, bobRec.numMessages())
	require.Eventually(t, func() bool { return bob.NumConnections() == 0 }, waitFor, tick)
}

func TestNode_TooManyConnections(t *testing.T) {
	deps := testDeps(t)
	opts := testOptions()
	opts.MaxConnections = 1
	bob, bobRec := startNode(t, "bob", opts, deps)
	alice, _ := startNode(t, "alice", testOptions(), deps)
	carol, carolRec := startNode(t, "carol", testOptions(), deps)

	_, err := alice.GetConnection(context.Background(), bob.Capability().Address)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.NumConnections() == 1 }, waitFor, tick)

	_, err = carol.GetConnection(context.Background(), bob.Capability().Address)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := carolRec.firstDisconnect()
		return ok
	}, waitFor, tick)
	d, _ := carolRec.firstDisconnect()
	assert.Equal(t, connection.ReasonTooManyConnections, d.reason.Kind)
	assert.Equal(t, 1, bob.NumConnections())
	assert.Equal(t, 1, bobRec.numConnections())
}

func TestNode_ConcurrentGetConnectionDialsOnce(t *testing.T) {
	deps := testDeps(t)
	alice, _ := startNode(t, "alice", testOptions(), deps)
	bob, _ := startNode(t, "bob", testOptions(), deps)

	const callers = 8
	conns := make([]*connection.Connection, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := alice.GetConnection(context.Background(), bob.Capability().Address)
			assert.NoError(t, err)
			conns[i] = c
		}()
	}
	wg.Wait()
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
	require.Eventually(t, func() bool { return bob.NumConnections() == 1 }, waitFor, tick)
	assert.Equal(t, 1, alice.NumConnections())
}

// gatedTransport 拨号阻塞到 release 关闭
type gatedTransport struct {
	loopbackTransport
	entered chan struct{}
	release chan struct{}
}

func (g gatedTransport) Dial(ctx context.Context, addr types.Address) (net.Conn, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.loopbackTransport.Dial(ctx, addr)
}

func TestNode_CancelledCallerDoesNotFailSharedDial(t *testing.T) {
	deps := testDeps(t)
	gate := gatedTransport{entered: make(chan struct{}, 1), release: make(chan struct{})}
	deps.Transport = gate
	alice, _ := startNode(t, "alice", testOptions(), deps)
	bob, _ := startNode(t, "bob", testOptions(), testDeps(t))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := alice.GetConnection(firstCtx, bob.Capability().Address)
		firstErr <- err
	}()
	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("dial not started")
	}

	secondDone := make(chan struct{})
	var (
		second    *connection.Connection
		secondErr error
	)
	go func() {
		defer close(secondDone)
		second, secondErr = alice.GetConnection(context.Background(), bob.Capability().Address)
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("cancelled caller still waiting")
	}

	close(gate.release)
	select {
	case <-secondDone:
	case <-time.After(waitFor):
		t.Fatal("second caller never returned")
	}
	require.NoError(t, secondErr)
	assert.True(t, second.IsRunning())
}

func TestNode_DialBannedPeer(t *testing.T) {
	deps := testDeps(t)
	bans, err := banlist.New(8, nil)
	require.NoError(t, err)
	deps.BanList = bans

	alice, _ := startNode(t, "alice", testOptions(), deps)
	bob, _ := startNode(t, "bob", testOptions(), testDeps(t))

	bans.Ban(bob.Capability().Address, time.Hour)
	_, err = alice.GetConnection(context.Background(), bob.Capability().Address)
	assert.ErrorIs(t, err, handshake.ErrBanned)
	assert.Equal(t, 0, alice.NumConnections())
}

func TestNode_Shutdown(t *testing.T) {
	deps := testDeps(t)
	alice, aliceRec := startNode(t, "alice", testOptions(), deps)
	bob, bobRec := startNode(t, "bob", testOptions(), deps)

	_, err := alice.GetConnection(context.Background(), bob.Capability().Address)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.NumConnections() == 1 }, waitFor, tick)

	require.NoError(t, alice.Shutdown(context.Background()))
	assert.Equal(t, StateTerminated, alice.State())
	assert.Equal(t, 1, aliceRec.numShutdowns())

	require.Eventually(t, func() bool {
		_, ok := bobRec.firstDisconnect()
		return ok
	}, waitFor, tick)
	d, _ := bobRec.firstDisconnect()
	assert.Equal(t, connection.ReasonShutdown, d.reason.Kind)

	_, err = alice.GetConnection(context.Background(), bob.Capability().Address)
	assert.ErrorIs(t, err, ErrNodeShutdown)
	assert.ErrorIs(t, alice.Initialize(context.Background()), ErrNodeShutdown)

	// 重复关闭无效
	require.NoError(t, alice.Shutdown(context.Background()))
	assert.Equal(t, 1, aliceRec.numShutdowns())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
}
