//go:build linux || darwin

package outbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

func TestMultiplexer_EstablishesConnection(t *testing.T) {
	f := newFixture(t)
	responder, rec := f.responder(t, "responder")
	x := f.multiplexer(t, 7001, true)

	addr := responder.Capability().Address
	ch, err := await(t, x.GetConnection(context.Background(), addr))
	require.NoError(t, err)
	assert.True(t, ch.IsActive())
	assert.Equal(t, addr, ch.PeerAddress())
	assert.Equal(t, addr, ch.PeerCapability().Address)
	require.Eventually(t, func() bool { return rec.numConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	// 已建立的连接直接返回
	again := x.GetConnection(context.Background(), addr)
	assert.True(t, again.IsDone())
	same, err := await(t, again)
	require.NoError(t, err)
	assert.Same(t, ch, same)
	assert.Len(t, x.AllOutboundConnections(), 1)
	assert.Zero(t, x.NumPending())
}

func TestMultiplexer_ExchangeMessages(t *testing.T) {
	f := newFixture(t)
	responder, rec := f.responder(t, "responder")
	x := f.multiplexer(t, 7002, true)

	ch, err := await(t, x.GetConnection(context.Background(), responder.Capability().Address))
	require.NoError(t, err)
	listener := newChannelRecorder()
	ch.AddListener(listener)

	require.NoError(t, ch.Send(&protocol.Ping{Nonce: 42}))
	require.Eventually(t, func() bool {
		msgs, _ := listener.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, _ := listener.snapshot()
	pong, ok := msgs[0].(*protocol.Pong)
	require.True(t, ok)
	assert.Equal(t, int32(42), pong.RequestNonce)
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, protocol.KindPing, rec.kinds()[0])
	assert.Equal(t, int64(1), ch.Metrics().ReceivedMessages())
	assert.Zero(t, ch.Pending())
}

func TestMultiplexer_ConcurrentRequestsShareResult(t *testing.T) {
	f := newFixture(t)
	responder, rec := f.responder(t, "responder")
	x := f.multiplexer(t, 7003, true)
	addr := responder.Capability().Address

	var wg sync.WaitGroup
	results := make([]*ConnectionChannel, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := await(t, x.GetConnection(context.Background(), addr))
			assert.NoError(t, err)
			results[i] = ch
		}()
	}
	wg.Wait()

	for _, ch := range results {
		assert.Same(t, results[0], ch)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.numConnections())
}

func TestMultiplexer_ConnectionRefused(t *testing.T) {
	f := newFixture(t)
	x := f.multiplexer(t, 7004, true)

	fut := x.GetConnection(context.Background(), types.NewAddress("127.0.0.1", freePort(t)))
	_, err := await(t, fut)
	require.Error(t, err)
	assert.Zero(t, x.NumPending())
	assert.Zero(t, x.Manager().NumConnecting())
}

func TestMultiplexer_RejectsNonClearAddress(t *testing.T) {
	f := newFixture(t)
	x := f.multiplexer(t, 7005, true)

	_, err := await(t, x.GetConnection(context.Background(), types.NewAddress("abcdefghijklmnop.onion", 9999)))
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}

func TestMultiplexer_WaitsForActivation(t *testing.T) {
	f := newFixture(t)
	responder, _ := f.responder(t, "responder")
	x := f.multiplexer(t, 7006, false)

	fut := x.GetConnection(context.Background(), responder.Capability().Address)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fut.IsDone())
	assert.False(t, x.Manager().IsActive())

	x.Manager().Activate()
	ch, err := await(t, fut)
	require.NoError(t, err)
	assert.True(t, ch.IsActive())
}

func TestMultiplexer_PeerShutdownClosesChannel(t *testing.T) {
	f := newFixture(t)
	responder, _ := f.responder(t, "responder")
	x := f.multiplexer(t, 7007, true)

	ch, err := await(t, x.GetConnection(context.Background(), responder.Capability().Address))
	require.NoError(t, err)
	listener := newChannelRecorder()
	ch.AddListener(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, responder.Shutdown(ctx))

	reason := listener.waitClosed(t)
	assert.Equal(t, connection.ReasonShutdown, reason.Kind)
	assert.Equal(t, StateClosed, ch.State())
	assert.Empty(t, x.AllOutboundConnections())

	err = ch.Send(&protocol.Ping{Nonce: 1})
	assert.ErrorIs(t, err, connection.ErrConnectionClosed)
}

func TestMultiplexer_CloseNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	responder, _ := f.responder(t, "responder")
	x := f.multiplexer(t, 7008, true)

	ch, err := await(t, x.GetConnection(context.Background(), responder.Capability().Address))
	require.NoError(t, err)
	listener := newChannelRecorder()
	ch.AddListener(listener)

	ch.Close(connection.Shutdown())
	ch.Close(connection.Exception(assert.AnError))
	listener.waitClosed(t)
	time.Sleep(50 * time.Millisecond)

	_, reasons := listener.snapshot()
	require.Len(t, reasons, 1)
	assert.Equal(t, connection.ReasonShutdown, reasons[0].Kind)
	got, ok := ch.CloseReason()
	require.True(t, ok)
	assert.Equal(t, connection.ReasonShutdown, got.Kind)
}

func TestMultiplexer_Shutdown(t *testing.T) {
	f := newFixture(t)
	responder, _ := f.responder(t, "responder")
	x := f.multiplexer(t, 7009, false)

	// 未激活时请求保持等待，关闭时失败
	pending := x.GetConnection(context.Background(), responder.Capability().Address)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, x.Shutdown(ctx))
	require.NoError(t, x.Shutdown(ctx))

	_, err := await(t, pending)
	assert.Error(t, err)

	_, err = await(t, x.GetConnection(context.Background(), responder.Capability().Address))
	assert.ErrorIs(t, err, ErrReactorClosed)
	assert.ErrorIs(t, x.Start(), ErrReactorClosed)
}
