package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netsync/internal/core/authz"
	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/transport/tcp"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var hashSetOnly = []types.Feature{types.FeatureInventoryHashSet}

type fixture struct {
	auth       *authz.HashCashService
	pool       *executor.Pool
	dispatcher *executor.Dispatcher
	clock      *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth, err := authz.NewHashCashService(0)
	require.NoError(t, err)
	f := &fixture{
		auth:       auth,
		pool:       executor.NewPool("test", 64),
		dispatcher: executor.NewDispatcher(),
		clock:      clock.NewMock(),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.pool.Close(ctx)
		_ = f.dispatcher.Close(ctx)
	})
	return f
}

// startNode 启动一个声明 features 的节点
func (f *fixture) startNode(t *testing.T, nodeID string, features []types.Feature) *node.Node {
	t.Helper()
	transport := tcp.NewTransport(tcp.DefaultOptions())
	t.Cleanup(func() { _ = transport.Close() })

	opts := node.DefaultOptions()
	opts.HandshakeTimeout = 2 * time.Second
	opts.SendTimeout = 2 * time.Second
	opts.Features = features
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

// responder 启动一个用 store 回答请求的节点
func (f *fixture) responder(t *testing.T, nodeID string, store *fakeStore) (*node.Node, *ResponseService) {
	t.Helper()
	n := f.startNode(t, nodeID, hashSetOnly)
	svc, err := NewResponseService(n, store, f.pool, 1<<20, []protocol.FilterType{protocol.FilterHashSet})
	require.NoError(t, err)
	svc.Start()
	t.Cleanup(svc.Shutdown)
	return n, svc
}

func connect(t *testing.T, from, to *node.Node) *connection.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	conn, err := from.GetConnection(ctx, to.Capability().Address)
	require.NoError(t, err)
	return conn
}

func awaitInventory(t *testing.T, fut *InventoryFuture) (protocol.Inventory, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return fut.Await(ctx)
}

func appendOnly(payload string) protocol.DataRequest {
	return &protocol.AddAppendOnlyDataRequest{Payload: []byte(payload)}
}

// ============================================================================
//                              fakes
// ============================================================================

// fakeStore 返回预设 inventory 并记录收到的过滤器
type fakeStore struct {
	mu        sync.Mutex
	known     []protocol.FilterEntry
	inventory protocol.Inventory
	filters   []protocol.DataFilter
}

var _ pkgif.InventoryStore = (*fakeStore)(nil)

func newFakeStore(inv protocol.Inventory) *fakeStore {
	return &fakeStore{inventory: inv}
}

func (s *fakeStore) KnownEntries() ([]protocol.FilterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.FilterEntry(nil), s.known...), nil
}

func (s *fakeStore) Missing(filter protocol.DataFilter, _ int) (protocol.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, filter)
	return s.inventory, nil
}

func (s *fakeStore) numRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filters)
}

// fakeData 记录应用的数据请求
type fakeData struct {
	mu      sync.Mutex
	added   []protocol.AddDataRequest
	removed []protocol.RemoveDataRequest
}

var _ pkgif.DataService = (*fakeData)(nil)

func (d *fakeData) ProcessAddDataRequest(req protocol.AddDataRequest, rebroadcast bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rebroadcast {
		panic("inventory entries must not be rebroadcast")
	}
	d.added = append(d.added, req)
	return true, nil
}

func (d *fakeData) ProcessRemoveDataRequest(req protocol.RemoveDataRequest, rebroadcast bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rebroadcast {
		panic("inventory entries must not be rebroadcast")
	}
	d.removed = append(d.removed, req)
	return true, nil
}

func (d *fakeData) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.added), len(d.removed)
}

// fakePeerGroup 可控的 peer group
type fakePeerGroup struct {
	mu        sync.Mutex
	state     pkgif.PeerGroupState
	seeds     []*connection.Connection
	nonSeeds  []*connection.Connection
	target    int
	listeners map[pkgif.PeerGroupStateListener]struct{}
	// host 非空时以其全部连接作为种子连接
	host *node.Node
}

var _ PeerGroup = (*fakePeerGroup)(nil)

func newFakePeerGroup() *fakePeerGroup {
	return &fakePeerGroup{
		state:     pkgif.PeerGroupRunning,
		target:    2,
		listeners: make(map[pkgif.PeerGroupStateListener]struct{}),
	}
}

func (g *fakePeerGroup) State() pkgif.PeerGroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *fakePeerGroup) setState(s pkgif.PeerGroupState) {
	g.mu.Lock()
	g.state = s
	ls := make([]pkgif.PeerGroupStateListener, 0, len(g.listeners))
	for l := range g.listeners {
		ls = append(ls, l)
	}
	g.mu.Unlock()
	for _, l := range ls {
		l.OnStateChanged(s)
	}
}

func (g *fakePeerGroup) setConnections(seeds, nonSeeds []*connection.Connection) {
	g.mu.Lock()
	g.seeds, g.nonSeeds = seeds, nonSeeds
	g.mu.Unlock()
}

func (g *fakePeerGroup) ShuffledSeedConnections() []*connection.Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.host != nil {
		return g.host.AllConnections()
	}
	return append([]*connection.Connection(nil), g.seeds...)
}

func (g *fakePeerGroup) ShuffledNonSeedConnections() []*connection.Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*connection.Connection(nil), g.nonSeeds...)
}

func (g *fakePeerGroup) TargetNumConnectedPeers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

func (g *fakePeerGroup) AddStateListener(l pkgif.PeerGroupStateListener) {
	g.mu.Lock()
	g.listeners[l] = struct{}{}
	g.mu.Unlock()
}

func (g *fakePeerGroup) RemoveStateListener(l pkgif.PeerGroupStateListener) {
	g.mu.Lock()
	delete(g.listeners, l)
	g.mu.Unlock()
}

func (g *fakePeerGroup) numListeners() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.listeners)
}

// fakeFilter 固定类型的过滤器服务
type fakeFilter struct{ t protocol.FilterType }

func (f fakeFilter) Type() protocol.FilterType { return f.t }

func (f fakeFilter) Filter() (protocol.DataFilter, error) {
	return protocol.DataFilter{FilterType: f.t}, nil
}

// requester 在 host 上创建请求服务
func (f *fixture) requester(t *testing.T, host *node.Node, pg *fakePeerGroup, data *fakeData, opts Options, bus pkgif.EventBus) *RequestService {
	t.Helper()
	svc, err := NewRequestService(opts, Dependencies{
		Host:      host,
		PeerGroup: pg,
		Data:      data,
		Filters:   []FilterService{NewHashSetFilterService(newFakeStore(protocol.Inventory{}))},
		Pool:      f.pool,
		Clock:     f.clock,
		EventBus:  bus,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return svc
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.InitialDelay = time.Second
	opts.RepeatRequestInterval = 10 * time.Minute
	return opts
}

// silentNode 声明 HASH_SET 但从不回答请求
func (f *fixture) silentNode(t *testing.T, nodeID string) *node.Node {
	return f.startNode(t, nodeID, hashSetOnly)
}

// retryScheduled 报告重试定时器是否以 d 待触发
func retryScheduled(s *RequestService, d time.Duration) bool {
	return s.retryTimer.Pending() && s.retryTimer.Delay() == d
}

// responseReplier 按脚本回复 InventoryRequest 的监听器
type responseReplier struct {
	node.NoopListener

	host    *node.Node
	replies func(req *protocol.InventoryRequest) []protocol.NetworkMessage
}

func (r *responseReplier) OnMessage(msg protocol.NetworkMessage, conn *connection.Connection, _ types.NetworkId) {
	req, ok := msg.(*protocol.InventoryRequest)
	if !ok {
		return
	}
	for _, m := range r.replies(req) {
		_ = r.host.SendOn(m, conn)
	}
}
