package inventory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

type responseCapture struct {
	node.NoopListener

	mu        sync.Mutex
	responses []*protocol.InventoryResponse
}

func (c *responseCapture) OnMessage(msg protocol.NetworkMessage, _ *connection.Connection, _ types.NetworkId) {
	if resp, ok := msg.(*protocol.InventoryResponse); ok {
		c.mu.Lock()
		c.responses = append(c.responses, resp)
		c.mu.Unlock()
	}
}

func (c *responseCapture) snapshot() []*protocol.InventoryResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.InventoryResponse(nil), c.responses...)
}

func TestResponseService_AnswersWithRequestNonce(t *testing.T) {
	f := newFixture(t)
	store := newFakeStore(complete("a"))
	responder, svc := f.responder(t, "responder", store)
	requester := f.startNode(t, "requester", hashSetOnly)
	capture := &responseCapture{}
	requester.AddListener(capture)
	conn := connect(t, requester, responder)

	filter := protocol.DataFilter{
		FilterType: protocol.FilterHashSet,
		Entries:    []protocol.FilterEntry{{Hash: protocol.DataHash([]byte("x")), Sequence: 1}},
	}
	require.NoError(t, requester.SendOn(&protocol.InventoryRequest{Filter: filter, Nonce: 42}, conn))

	require.Eventually(t, func() bool { return len(capture.snapshot()) == 1 }, waitFor, tick)
	resp := capture.snapshot()[0]
	assert.Equal(t, int32(42), resp.RequestNonce)
	assert.Len(t, resp.Inventory.Entries, 1)
	assert.Equal(t, int64(1), svc.NumServed())
	require.Equal(t, 1, store.numRequests())
	assert.Len(t, store.filters[0].Entries, 1)
}

func TestResponseService_IgnoresUnsupportedFilter(t *testing.T) {
	f := newFixture(t)
	store := newFakeStore(complete("a"))
	responder, svc := f.responder(t, "responder", store)
	requester := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, requester, responder)

	req := &protocol.InventoryRequest{Filter: protocol.DataFilter{FilterType: protocol.FilterMiniSketch}, Nonce: 1}
	require.NoError(t, requester.SendOn(req, conn))
	require.NoError(t, requester.SendOn(&protocol.Ping{Nonce: 1}, conn))

	// Pong 到达说明请求已被处理
	require.Eventually(t, func() bool { return conn.Metrics().ReceivedMessages() >= 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.numRequests())
	assert.Equal(t, int64(0), svc.NumServed())
}

func TestResponseService_ShutdownStopsAnswering(t *testing.T) {
	f := newFixture(t)
	store := newFakeStore(complete("a"))
	responder, svc := f.responder(t, "responder", store)
	requester := f.startNode(t, "requester", hashSetOnly)
	conn := connect(t, requester, responder)
	svc.Shutdown()

	require.NoError(t, requester.SendOn(&protocol.InventoryRequest{Filter: protocol.DataFilter{FilterType: protocol.FilterHashSet}}, conn))
	require.NoError(t, requester.SendOn(&protocol.Ping{Nonce: 1}, conn))
	require.Eventually(t, func() bool { return conn.Metrics().ReceivedMessages() >= 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.numRequests())
}

func TestHashSetFilterService(t *testing.T) {
	store := newFakeStore(protocol.Inventory{})
	store.known = []protocol.FilterEntry{{Hash: []byte{1}, Sequence: 3}}
	svc := NewHashSetFilterService(store)

	assert.Equal(t, protocol.FilterHashSet, svc.Type())
	filter, err := svc.Filter()
	require.NoError(t, err)
	assert.Equal(t, protocol.FilterHashSet, filter.FilterType)
	assert.Equal(t, store.known, filter.Entries)
}

func TestFilterTypeFromFeature(t *testing.T) {
	ft, ok := FilterTypeFromFeature(types.FeatureInventoryMiniSketch)
	assert.True(t, ok)
	assert.Equal(t, protocol.FilterMiniSketch, ft)

	_, ok = FilterTypeFromFeature(types.FeatureAuthorizationHashCash)
	assert.False(t, ok)

	assert.Equal(t,
		[]protocol.FilterType{protocol.FilterHashSet},
		FilterTypesFromFeatures([]types.Feature{types.FeatureAuthorizationHashCash, types.FeatureInventoryHashSet}),
	)
}
