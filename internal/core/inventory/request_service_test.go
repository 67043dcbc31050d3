package inventory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/eventbus"
	"github.com/dep2p/go-netsync/internal/core/node"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

func complete(payload string) protocol.Inventory {
	return protocol.Inventory{Entries: []protocol.DataRequest{appendOnly(payload)}}
}

// responders 启动 n 个返回 inv 的响应方，并从 host 连接它们
func (f *fixture) responders(t *testing.T, host *node.Node, invs ...protocol.Inventory) ([]*connection.Connection, []*fakeStore) {
	t.Helper()
	conns := make([]*connection.Connection, len(invs))
	stores := make([]*fakeStore, len(invs))
	for i, inv := range invs {
		stores[i] = newFakeStore(inv)
		n, _ := f.responder(t, fmt.Sprintf("responder-%d", i), stores[i])
		conns[i] = connect(t, host, n)
	}
	return conns, stores
}

func TestRequestService_IncompleteInventoryRetriesFast(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conns, _ := f.responders(t, host,
		complete("a"),
		complete("b"),
		protocol.Inventory{Entries: []protocol.DataRequest{appendOnly("c")}, MaxSizeReached: true},
	)
	pg := newFakePeerGroup()
	pg.setConnections(conns[:1], conns[1:])
	data := &fakeData{}
	svc := f.requester(t, host, pg, data, testOptions(), nil)

	svc.MaybeRequestInventory()

	require.Eventually(t, func() bool { return retryScheduled(svc, IncompleteRetry) }, waitFor, tick)
	assert.False(t, svc.AllDataReceived())
	assert.Equal(t, 0, svc.NumPendingRequests())
	added, _ := data.counts()
	assert.Equal(t, 3, added, "entries of incomplete inventories are applied too")
	assert.False(t, svc.repeatTimer.Pending())
}

func TestRequestService_NoCandidatesRetriesLater(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	svc := f.requester(t, host, newFakePeerGroup(), &fakeData{}, testOptions(), nil)

	svc.MaybeRequestInventory()

	assert.True(t, retryScheduled(svc, NoCandidatesRetry))
	assert.False(t, svc.AllDataReceived())
	assert.Equal(t, 0, svc.NumPendingRequests())
}

func TestRequestService_PeerGroupNotRunning(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	pg := newFakePeerGroup()
	pg.setState(pkgif.PeerGroupStarting)
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)

	svc.MaybeRequestInventory()
	assert.True(t, retryScheduled(svc, PeerGroupNotReadyRetry))

	// 再次调用替换而不是叠加定时器
	svc.MaybeRequestInventory()
	assert.True(t, retryScheduled(svc, PeerGroupNotReadyRetry))
}

func TestRequestService_AllCompleteSchedulesRepeat(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conns, stores := f.responders(t, host, complete("a"), complete("b"))
	pg := newFakePeerGroup()
	pg.setConnections(conns[:1], conns[1:])
	bus := eventbus.NewBus()
	sub, err := bus.Subscribe(new(types.EvtAllDataReceivedChanged))
	require.NoError(t, err)
	defer sub.Close()

	opts := testOptions()
	svc := f.requester(t, host, pg, &fakeData{}, opts, bus)

	svc.MaybeRequestInventory()
	require.Eventually(t, svc.AllDataReceived, waitFor, tick)
	require.Eventually(t, svc.repeatTimer.Pending, waitFor, tick)
	assert.Equal(t, opts.RepeatRequestInterval, svc.repeatTimer.Delay())
	assert.False(t, svc.IsRepeatedRequest())

	select {
	case evt := <-sub.Out():
		assert.True(t, evt.(types.EvtAllDataReceivedChanged).AllDataReceived)
	case <-time.After(waitFor):
		t.Fatal("no all-data-received event")
	}

	// 已收敛时普通触发被忽略
	svc.MaybeRequestInventory()
	assert.Equal(t, 1, stores[0].numRequests())

	f.clock.Add(opts.RepeatRequestInterval)
	require.Eventually(t, func() bool {
		return stores[0].numRequests() == 2 && stores[1].numRequests() == 2
	}, waitFor, tick)
	require.Eventually(t, func() bool { return !svc.IsRepeatedRequest() && svc.repeatTimer.Pending() }, waitFor, tick)
	assert.True(t, svc.AllDataReceived())
}

func TestRequestService_SkipsPeersWithoutCommonFilter(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	other := f.startNode(t, "no-inventory", []types.Feature{types.FeatureAuthorizationHashCash})
	conn := connect(t, host, other)
	pg := newFakePeerGroup()
	pg.setConnections([]*connection.Connection{conn}, nil)
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)

	svc.MaybeRequestInventory()

	assert.True(t, retryScheduled(svc, NoCandidatesRetry))
	assert.Equal(t, 0, svc.NumPendingRequests())
	_, err := svc.RequestFrom(conn)
	assert.ErrorIs(t, err, ErrNoFilterService)
}

func TestRequestService_FilterTypePreferenceOrder(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	opts := testOptions()
	opts.PreferredFilterTypes = []protocol.FilterType{protocol.FilterMiniSketch, protocol.FilterHashSet}
	svc, err := NewRequestService(opts, Dependencies{
		Host:      host,
		PeerGroup: newFakePeerGroup(),
		Data:      &fakeData{},
		Filters:   []FilterService{fakeFilter{protocol.FilterHashSet}, fakeFilter{protocol.FilterMiniSketch}},
		Pool:      f.pool,
		Clock:     f.clock,
	})
	require.NoError(t, err)

	both := types.Capability{Features: []types.Feature{types.FeatureInventoryHashSet, types.FeatureInventoryMiniSketch}}
	ft, ok := svc.filterTypeFor(both)
	require.True(t, ok)
	assert.Equal(t, protocol.FilterMiniSketch, ft)

	hashSet := types.Capability{Features: []types.Feature{types.FeatureInventoryHashSet}}
	ft, ok = svc.filterTypeFor(hashSet)
	require.True(t, ok)
	assert.Equal(t, protocol.FilterHashSet, ft)

	_, ok = svc.filterTypeFor(types.Capability{})
	assert.False(t, ok)

	// 没有服务的类型不参与协商
	svc.filters = map[protocol.FilterType]FilterService{protocol.FilterHashSet: fakeFilter{protocol.FilterHashSet}}
	ft, ok = svc.filterTypeFor(both)
	require.True(t, ok)
	assert.Equal(t, protocol.FilterHashSet, ft)
}

func TestRequestService_MaxPendingRequests(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	var conns []*connection.Connection
	for i := 0; i < 4; i++ {
		conns = append(conns, connect(t, host, f.silentNode(t, fmt.Sprintf("silent-%d", i))))
	}
	pg := newFakePeerGroup()
	pg.setConnections(conns[:2], conns[2:])
	opts := testOptions()
	opts.MaxPendingRequests = 2
	svc := f.requester(t, host, pg, &fakeData{}, opts, nil)

	svc.MaybeRequestInventory()
	assert.Equal(t, 2, svc.NumPendingRequests())
	assert.Len(t, svc.PendingPeers(), svc.NumPendingRequests())

	// 已满时不再发出请求
	svc.MaybeRequestInventory()
	assert.Equal(t, 2, svc.NumPendingRequests())
	assert.Len(t, svc.PendingPeers(), 2)
}

func TestRequestService_ExcludesPendingPeers(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, host, f.silentNode(t, "silent"))
	pg := newFakePeerGroup()
	pg.setConnections([]*connection.Connection{conn}, []*connection.Connection{conn})
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)

	svc.MaybeRequestInventory()
	assert.Equal(t, 1, svc.NumPendingRequests())

	svc.MaybeRequestInventory()
	assert.Equal(t, 1, svc.NumPendingRequests())
	assert.True(t, retryScheduled(svc, NoCandidatesRetry))

	_, err := svc.RequestFrom(conn)
	assert.ErrorIs(t, err, ErrPendingRequest)
}

func TestRequestService_RequestTimeout(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, host, f.silentNode(t, "silent"))
	pg := newFakePeerGroup()
	pg.setConnections([]*connection.Connection{conn}, nil)
	opts := testOptions()
	svc := f.requester(t, host, pg, &fakeData{}, opts, nil)

	svc.MaybeRequestInventory()
	require.Equal(t, 1, svc.NumPendingRequests())

	f.clock.Add(opts.RequestTimeout)
	require.Eventually(t, func() bool { return svc.NumPendingRequests() == 0 }, waitFor, tick)
	require.Eventually(t, func() bool { return retryScheduled(svc, NoCandidatesRetry) }, waitFor, tick)
	assert.True(t, conn.IsRunning())
}

func TestRequestService_PartialFailureWithCompleteRestConverges(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conns, _ := f.responders(t, host, complete("a"))
	silent := connect(t, host, f.silentNode(t, "silent"))
	pg := newFakePeerGroup()
	pg.setConnections(conns, []*connection.Connection{silent})
	data := &fakeData{}
	opts := testOptions()
	svc := f.requester(t, host, pg, data, opts, nil)

	svc.MaybeRequestInventory()
	require.Equal(t, 2, svc.NumPendingRequests())
	require.Eventually(t, func() bool { added, _ := data.counts(); return added == 1 }, waitFor, tick)
	assert.False(t, svc.AllDataReceived())

	f.clock.Add(opts.RequestTimeout)
	require.Eventually(t, svc.AllDataReceived, waitFor, tick)
	assert.Equal(t, 0, svc.NumPendingRequests())
	require.Eventually(t, svc.repeatTimer.Pending, waitFor, tick)
	assert.Equal(t, opts.RepeatRequestInterval, svc.repeatTimer.Delay())
	assert.False(t, svc.retryTimer.Pending())
}

func TestRequestService_DisconnectRemovesPending(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, host, f.silentNode(t, "silent"))
	pg := newFakePeerGroup()
	pg.setConnections([]*connection.Connection{conn}, nil)
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)
	svc.Start()

	svc.MaybeRequestInventory()
	require.Equal(t, 1, svc.NumPendingRequests())

	conn.Close(connection.Shutdown())
	require.Eventually(t, func() bool { return svc.NumPendingRequests() == 0 }, waitFor, tick)
	assert.Empty(t, svc.PendingPeers())
}

func TestRequestService_NewConnectionTriggersRequest(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	store := newFakeStore(complete("a"))
	responder, _ := f.responder(t, "responder", store)
	pg := newFakePeerGroup()
	pg.target = 2
	pg.host = host
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)
	svc.Start()

	connect(t, host, responder)

	require.Eventually(t, func() bool { return store.numRequests() >= 1 }, waitFor, tick)
	require.Eventually(t, svc.AllDataReceived, waitFor, tick)
}

func TestRequestService_StateRunningSchedulesInitialRequest(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	pg := newFakePeerGroup()
	pg.setState(pkgif.PeerGroupStarting)
	opts := testOptions()
	svc := f.requester(t, host, pg, &fakeData{}, opts, nil)
	svc.Start()
	assert.False(t, svc.initialDelayTimer.Pending())

	pg.setState(pkgif.PeerGroupRunning)
	require.True(t, svc.initialDelayTimer.Pending())
	assert.Equal(t, opts.InitialDelay, svc.initialDelayTimer.Delay())

	f.clock.Add(opts.InitialDelay)
	require.Eventually(t, func() bool { return retryScheduled(svc, NoCandidatesRetry) }, waitFor, tick)
}

func TestRequestService_PendingEvents(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, host, f.silentNode(t, "silent"))
	pg := newFakePeerGroup()
	pg.setConnections([]*connection.Connection{conn}, nil)
	bus := eventbus.NewBus()
	sub, err := bus.Subscribe(new(types.EvtPendingRequestsChanged))
	require.NoError(t, err)
	defer sub.Close()
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), bus)

	svc.MaybeRequestInventory()
	select {
	case evt := <-sub.Out():
		assert.Equal(t, 1, evt.(types.EvtPendingRequestsChanged).NumPending)
	case <-time.After(waitFor):
		t.Fatal("no pending event")
	}
}

func TestRequestService_Shutdown(t *testing.T) {
	f := newFixture(t)
	host := f.startNode(t, "requester", hashSetOnly)
	conns := []*connection.Connection{
		connect(t, host, f.silentNode(t, "silent-0")),
		connect(t, host, f.silentNode(t, "silent-1")),
	}
	pg := newFakePeerGroup()
	pg.setConnections(conns, nil)
	svc := f.requester(t, host, pg, &fakeData{}, testOptions(), nil)
	svc.Start()
	require.True(t, svc.initialDelayTimer.Pending())

	svc.MaybeRequestInventory()
	require.Equal(t, 2, svc.NumPendingRequests())
	svc.mu.Lock()
	handlers := make([]*Handler, 0, len(svc.pending))
	for _, h := range svc.pending {
		handlers = append(handlers, h)
	}
	svc.mu.Unlock()

	svc.Shutdown()
	svc.Shutdown()

	assert.Equal(t, 0, svc.NumPendingRequests())
	assert.Empty(t, svc.PendingPeers())
	assert.False(t, svc.initialDelayTimer.Pending())
	assert.False(t, svc.retryTimer.Pending())
	assert.False(t, svc.repeatTimer.Pending())
	assert.Equal(t, 0, pg.numListeners())
	for _, h := range handlers {
		assert.True(t, h.IsDisposed())
		assert.True(t, h.Result().IsCancelled())
	}

	svc.MaybeRequestInventory()
	assert.Equal(t, 0, svc.NumPendingRequests())
	_, err := svc.RequestFrom(conns[0])
	assert.ErrorIs(t, err, ErrServiceShutdown)
}
