package peergroup

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/authz"
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/transport/tcp"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
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
	f := &fixture{auth: auth, pool: executor.NewPool("test", 32), dispatcher: executor.NewDispatcher()}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.pool.Close(ctx)
		_ = f.dispatcher.Close(ctx)
	})
	return f
}

func (f *fixture) startNode(t *testing.T, nodeID string) *node.Node {
	t.Helper()
	transport := tcp.NewTransport(tcp.DefaultOptions())
	t.Cleanup(func() { _ = transport.Close() })
	opts := node.DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
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
	require.NoError(t, n.Initialize(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.Shutdown(ctx)
	})
	return n
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type stateRecorder struct {
	mu     sync.Mutex
	states []pkgif.PeerGroupState
}

func (r *stateRecorder) OnStateChanged(s pkgif.PeerGroupState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []pkgif.PeerGroupState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pkgif.PeerGroupState(nil), r.states...)
}

func newManager(t *testing.T, host *node.Node, seeds []types.Address, c clock.Clock) *StaticManager {
	t.Helper()
	opts := DefaultOptions()
	opts.Seeds = seeds
	opts.TargetNumConnectedPeers = 4
	opts.DialTimeout = 2 * time.Second
	m, err := NewStaticManager(opts, host, c)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func TestStaticManager_DialsSeedsAndRuns(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "host")
	seed := f.startNode(t, "seed")
	m := newManager(t, host, []types.Address{seed.Capability().Address}, clock.NewMock())
	rec := &stateRecorder{}
	m.AddStateListener(rec)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, pkgif.PeerGroupRunning, m.State())
	assert.Equal(t, []pkgif.PeerGroupState{pkgif.PeerGroupStarting, pkgif.PeerGroupRunning}, rec.snapshot())

	seeds := m.ShuffledSeedConnections()
	require.Len(t, seeds, 1)
	assert.Equal(t, seed.Capability().Address, seeds[0].PeerAddress())
	assert.Empty(t, m.ShuffledNonSeedConnections())

	other := f.startNode(t, "other")
	_, err := host.GetConnection(context.Background(), other.Capability().Address)
	require.NoError(t, err)
	assert.Len(t, m.ShuffledNonSeedConnections(), 1)
	assert.Len(t, m.ShuffledSeedConnections(), 1)

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestStaticManager_UnreachableSeedBacksOff(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "host")
	mock := clock.NewMock()
	unreachable := types.NewAddress("127.0.0.1", freePort(t))
	m := newManager(t, host, []types.Address{unreachable}, mock)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, pkgif.PeerGroupRunning, m.State())
	assert.Equal(t, 1, m.SeedFailures(unreachable))

	// 退避期内不重拨
	m.Maintain(context.Background())
	assert.Equal(t, 1, m.SeedFailures(unreachable))

	mock.Add(m.opts.RetryInterval)
	m.Maintain(context.Background())
	assert.Equal(t, 2, m.SeedFailures(unreachable))
}

func TestStaticManager_MaintainReconnects(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "host")
	seed := f.startNode(t, "seed")
	m := newManager(t, host, []types.Address{seed.Capability().Address}, clock.NewMock())
	require.NoError(t, m.Start(context.Background()))
	require.Len(t, m.ShuffledSeedConnections(), 1)

	m.ShuffledSeedConnections()[0].Close(connection.Shutdown())
	require.Eventually(t, func() bool { return host.NumConnections() == 0 }, waitFor, tick)

	m.Maintain(context.Background())
	assert.Len(t, m.ShuffledSeedConnections(), 1)
}

func TestStaticManager_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "host")
	m := newManager(t, host, nil, clock.NewMock())
	rec := &stateRecorder{}
	require.NoError(t, m.Start(context.Background()))
	m.AddStateListener(rec)

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, pkgif.PeerGroupTerminated, m.State())
	assert.Equal(t, []pkgif.PeerGroupState{pkgif.PeerGroupStopping, pkgif.PeerGroupTerminated}, rec.snapshot())

	m.RemoveStateListener(rec)
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestStaticManager_StopBeforeStart(t *testing.T) {
	f := newFixture(t)
	m := newManager(t, f.startNode(t, "host"), nil, clock.NewMock())
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, pkgif.PeerGroupTerminated, m.State())
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestBackoff(t *testing.T) {
	base, limit := 5*time.Second, time.Minute
	assert.Equal(t, 5*time.Second, backoff(base, limit, 1))
	assert.Equal(t, 10*time.Second, backoff(base, limit, 2))
	assert.Equal(t, 40*time.Second, backoff(base, limit, 4))
	assert.Equal(t, limit, backoff(base, limit, 10))
}
