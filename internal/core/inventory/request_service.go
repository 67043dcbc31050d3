package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netsync/internal/core/connection"
	"github.com/dep2p/go-netsync/internal/core/executor"
	"github.com/dep2p/go-netsync/internal/core/future"
	"github.com/dep2p/go-netsync/internal/core/node"
	"github.com/dep2p/go-netsync/internal/core/scheduler"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/inventory")

// Host 请求服务绑定的节点，*node.Node 满足该接口
type Host interface {
	Sender
	AddListener(l node.Listener)
	RemoveListener(l node.Listener)
	NumConnections() int
}

// PeerGroup 只读的 peer group 视图
type PeerGroup interface {
	State() pkgif.PeerGroupState
	ShuffledSeedConnections() []*connection.Connection
	ShuffledNonSeedConnections() []*connection.Connection
	TargetNumConnectedPeers() int
	AddStateListener(l pkgif.PeerGroupStateListener)
	RemoveStateListener(l pkgif.PeerGroupStateListener)
}

// Dependencies 请求服务的协作者
type Dependencies struct {
	Host      Host
	PeerGroup PeerGroup
	Data      pkgif.DataService
	Filters   []FilterService
	Pool      *executor.Pool
	Clock     clock.Clock
	// EventBus 可选
	EventBus pkgif.EventBus
}

func (d *Dependencies) validate() error {
	switch {
	case d.Host == nil:
		return fmt.Errorf("%w: host", ErrInvalidDependencies)
	case d.PeerGroup == nil:
		return fmt.Errorf("%w: peer group", ErrInvalidDependencies)
	case d.Data == nil:
		return fmt.Errorf("%w: data service", ErrInvalidDependencies)
	case d.Pool == nil:
		return fmt.Errorf("%w: pool", ErrInvalidDependencies)
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return nil
}

// candidate 一个可请求的对端
type candidate struct {
	conn       *connection.Connection
	filterType protocol.FilterType
}

// round 一次 maybeRequestInventory 发出的请求集合
type round struct {
	remaining  atomic.Int32
	succeeded  atomic.Int32
	incomplete atomic.Bool
}

// RequestService 驱动本地数据与对端收敛
//
// pending 表与 numPending 由 mu 保护，每次修改后 numPending == len(pending)。
// 三类重试定时器各自只保留一个实例。
type RequestService struct {
	opts    Options
	deps    Dependencies
	filters map[protocol.FilterType]FilterService

	mu         sync.Mutex
	pending    map[string]*Handler
	numPending atomic.Int32

	allDataReceived   atomic.Bool
	isRepeatedRequest atomic.Bool
	started           atomic.Bool
	closed            atomic.Bool

	retryTimer        *scheduler.Timer
	repeatTimer       *scheduler.Timer
	initialDelayTimer *scheduler.Timer

	pendingEmitter  pkgif.Emitter
	receivedEmitter pkgif.Emitter
}

var (
	_ node.Listener                = (*RequestService)(nil)
	_ pkgif.PeerGroupStateListener = (*RequestService)(nil)
)

// NewRequestService 创建请求服务
func NewRequestService(opts Options, deps Dependencies) (*RequestService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &RequestService{
		opts:              opts,
		deps:              deps,
		filters:           make(map[protocol.FilterType]FilterService, len(deps.Filters)),
		pending:           make(map[string]*Handler),
		retryTimer:        scheduler.NewTimer(deps.Clock, "inventory-retry"),
		repeatTimer:       scheduler.NewTimer(deps.Clock, "inventory-repeat"),
		initialDelayTimer: scheduler.NewTimer(deps.Clock, "inventory-initial-delay"),
	}
	for _, f := range deps.Filters {
		s.filters[f.Type()] = f
	}
	if deps.EventBus != nil {
		var err error
		if s.pendingEmitter, err = deps.EventBus.Emitter(new(types.EvtPendingRequestsChanged), pkgif.Stateful()); err != nil {
			return nil, fmt.Errorf("pending emitter: %w", err)
		}
		if s.receivedEmitter, err = deps.EventBus.Emitter(new(types.EvtAllDataReceivedChanged), pkgif.Stateful()); err != nil {
			return nil, fmt.Errorf("all data received emitter: %w", err)
		}
	}
	return s, nil
}

// Start 注册到节点与 peer group；peer group 已运行时安排首次请求
func (s *RequestService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.deps.Host.AddListener(s)
	s.deps.PeerGroup.AddStateListener(s)
	if s.deps.PeerGroup.State() == pkgif.PeerGroupRunning {
		s.scheduleInitialRequest()
	}
	logger.Info("inventory 请求服务已启动",
		"maxPending", s.opts.MaxPendingRequests, "filterTypes", fmt.Sprint(s.opts.PreferredFilterTypes))
}

// Shutdown 释放所有进行中的 handler 并停止定时器
func (s *RequestService) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.deps.Host.RemoveListener(s)
	s.deps.PeerGroup.RemoveStateListener(s)
	s.retryTimer.Stop()
	s.repeatTimer.Stop()
	s.initialDelayTimer.Stop()

	s.mu.Lock()
	handlers := make([]*Handler, 0, len(s.pending))
	for _, h := range s.pending {
		handlers = append(handlers, h)
	}
	s.pending = make(map[string]*Handler)
	s.setNumPendingLocked()
	s.mu.Unlock()

	for _, h := range handlers {
		h.Dispose()
	}
	if s.pendingEmitter != nil {
		_ = s.pendingEmitter.Close()
	}
	if s.receivedEmitter != nil {
		_ = s.receivedEmitter.Close()
	}
	logger.Info("inventory 请求服务已关闭", "disposed", len(handlers))
}

// ============================================================================
//                              请求流程
// ============================================================================

// MaybeRequestInventory 在需要时向候选对端发出一轮请求
//
// 可重入：每次调用独立计算候选并在本轮结束后决定下一次重试。
func (s *RequestService) MaybeRequestInventory() {
	if s.closed.Load() {
		return
	}
	if s.allDataReceived.Load() && !s.isRepeatedRequest.Load() {
		return
	}
	if int(s.numPending.Load()) >= s.opts.MaxPendingRequests {
		logger.Debug("进行中的请求已达上限", "pending", s.numPending.Load())
		return
	}
	if state := s.deps.PeerGroup.State(); state != pkgif.PeerGroupRunning {
		logger.Debug("peer group 尚未运行，稍后重试", "state", state.String())
		s.retryTimer.Schedule(PeerGroupNotReadyRetry, s.trigger)
		return
	}

	candidates := s.candidates()
	if len(candidates) == 0 {
		logger.Info("没有可请求 inventory 的对端，稍后重试", "retry", NoCandidatesRetry)
		s.retryTimer.Schedule(NoCandidatesRetry, s.trigger)
		return
	}

	filters := make(map[protocol.FilterType]protocol.DataFilter)
	r := &round{}
	// 额外的 1 在全部请求发出后释放，避免提前结算
	r.remaining.Store(int32(len(candidates)) + 1)
	for _, c := range candidates {
		filter, ok := filters[c.filterType]
		if !ok {
			var err error
			filter, err = s.filters[c.filterType].Filter()
			if err != nil {
				logger.Warn("构造过滤器失败", "filterType", c.filterType.String(), "error", err)
				s.finish(r)
				continue
			}
			filters[c.filterType] = filter
		}
		if s.request(c.conn, filter, r) == nil {
			s.finish(r)
		}
	}
	s.finish(r)
}

func (s *RequestService) trigger() {
	if s.closed.Load() {
		return
	}
	if _, err := s.deps.Pool.Submit(func(context.Context) { s.MaybeRequestInventory() }); err != nil {
		logger.Debug("提交 inventory 请求失败", "error", err)
	}
}

func (s *RequestService) scheduleInitialRequest() {
	s.initialDelayTimer.Schedule(s.opts.InitialDelay, s.trigger)
}

// candidates 选出种子与普通对端，总数不超过剩余的 pending 配额
func (s *RequestService) candidates() []candidate {
	room := s.opts.MaxPendingRequests - int(s.numPending.Load())
	if room <= 0 {
		return nil
	}
	out := make([]candidate, 0, s.opts.MaxSeedsForRequest+s.opts.MaxPeersForRequest)
	out = s.appendCandidates(out, s.deps.PeerGroup.ShuffledSeedConnections(), s.opts.MaxSeedsForRequest)
	out = s.appendCandidates(out, s.deps.PeerGroup.ShuffledNonSeedConnections(), s.opts.MaxPeersForRequest)
	if len(out) > room {
		out = out[:room]
	}
	return out
}

func (s *RequestService) appendCandidates(out []candidate, conns []*connection.Connection, limit int) []candidate {
	taken := 0
	for _, conn := range conns {
		if taken >= limit {
			break
		}
		if !conn.IsRunning() || s.hasPending(conn.PeerAddress()) || containsPeer(out, conn) {
			continue
		}
		ft, ok := s.filterTypeFor(conn.PeerCapability())
		if !ok {
			logger.Debug("对端不支持本地过滤器类型", "peer", conn.PeerAddress().String())
			continue
		}
		out = append(out, candidate{conn: conn, filterType: ft})
		taken++
	}
	return out
}

func containsPeer(cs []candidate, conn *connection.Connection) bool {
	key := conn.PeerAddress().FullAddress()
	for _, c := range cs {
		if c.conn.PeerAddress().FullAddress() == key {
			return true
		}
	}
	return false
}

// filterTypeFor 按本地优先级返回第一个对端也支持的过滤器类型
func (s *RequestService) filterTypeFor(peer types.Capability) (protocol.FilterType, bool) {
	supported := FilterTypesFromFeatures(peer.Features)
	for _, preferred := range s.opts.PreferredFilterTypes {
		if _, ok := s.filters[preferred]; !ok {
			continue
		}
		for _, t := range supported {
			if t == preferred {
				return preferred, true
			}
		}
	}
	return protocol.FilterUnknown, false
}

// request 发出一个请求，未能登记时返回 nil
func (s *RequestService) request(conn *connection.Connection, filter protocol.DataFilter, r *round) *Handler {
	key := conn.PeerAddress().FullAddress()
	h := NewHandler(s.deps.Host, conn, s.deps.Pool, s.deps.Clock)
	if !s.addPending(key, h) {
		h.Dispose()
		return nil
	}

	result := h.Request(filter)
	timeout := s.deps.Clock.AfterFunc(s.opts.RequestTimeout, func() {
		if result.Fail(ErrRequestTimeout) {
			logger.Info("inventory 请求超时", "peer", conn.PeerAddress().String())
			h.Dispose()
		}
	})
	result.WhenComplete(func(inv protocol.Inventory, err error) {
		timeout.Stop()
		s.removePending(key, h)
		if err != nil {
			if errors.Is(err, future.ErrCancelled) {
				logger.Debug("inventory 请求已取消", "peer", conn.PeerAddress().String())
			} else {
				logger.Info("inventory 请求失败", "peer", conn.PeerAddress().String(), "error", err)
			}
			s.finish(r)
			return
		}
		s.applyAsync(inv, conn, r)
	})
	return h
}

// RequestFrom 向单个对端发出一次请求，结果同样应用到 DataService
//
// 不参与轮次结算与重试调度。
func (s *RequestService) RequestFrom(conn *connection.Connection) (*InventoryFuture, error) {
	if s.closed.Load() {
		return nil, ErrServiceShutdown
	}
	if s.hasPending(conn.PeerAddress()) {
		return nil, ErrPendingRequest
	}
	ft, ok := s.filterTypeFor(conn.PeerCapability())
	if !ok {
		return nil, fmt.Errorf("%w: peer %s", ErrNoFilterService, conn.PeerAddress())
	}
	filter, err := s.filters[ft].Filter()
	if err != nil {
		return nil, err
	}
	r := &round{}
	// 单独的轮次永远不会结算
	r.remaining.Store(2)
	h := s.request(conn, filter, r)
	if h == nil {
		return nil, ErrPendingRequest
	}
	return h.Result(), nil
}

// applyAsync 在 I/O 池上应用响应，池已关闭时就地执行
func (s *RequestService) applyAsync(inv protocol.Inventory, conn *connection.Connection, r *round) {
	run := func(context.Context) {
		s.apply(inv, conn)
		r.succeeded.Add(1)
		if !inv.NoDataMissing() {
			r.incomplete.Store(true)
		}
		s.finish(r)
	}
	if _, err := s.deps.Pool.Submit(run); err != nil {
		run(context.Background())
	}
}

// apply 逐条应用 inventory，单条失败不影响其他条目
func (s *RequestService) apply(inv protocol.Inventory, conn *connection.Connection) {
	var added, removed int
	for _, entry := range inv.Entries {
		switch req := entry.(type) {
		case protocol.AddDataRequest:
			ok, err := s.deps.Data.ProcessAddDataRequest(req, false)
			if err != nil {
				logger.Debug("应用新增数据失败", "kind", req.DataKind().String(), "error", err)
			} else if ok {
				added++
			}
		case protocol.RemoveDataRequest:
			ok, err := s.deps.Data.ProcessRemoveDataRequest(req, false)
			if err != nil {
				logger.Debug("应用删除数据失败", "kind", req.DataKind().String(), "error", err)
			} else if ok {
				removed++
			}
		}
	}
	logger.Debug("已应用 inventory", "peer", conn.PeerAddress().String(),
		"entries", len(inv.Entries), "added", added, "removed", removed)
}

// finish 递减本轮计数，最后一个完成者结算本轮
func (s *RequestService) finish(r *round) {
	if r.remaining.Add(-1) != 0 {
		return
	}
	if s.closed.Load() {
		return
	}
	switch {
	case r.succeeded.Load() == 0:
		logger.Info("本轮 inventory 请求均未成功，稍后重试", "retry", NoCandidatesRetry)
		s.retryTimer.Schedule(NoCandidatesRetry, s.trigger)
	case r.incomplete.Load():
		logger.Info("仍有数据缺失，快速重试", "retry", IncompleteRetry)
		s.retryTimer.Schedule(IncompleteRetry, s.trigger)
	default:
		logger.Info("已收到全部数据", "repeatAfter", s.opts.RepeatRequestInterval)
		s.setAllDataReceived(true)
		s.isRepeatedRequest.Store(false)
		s.repeatTimer.Schedule(s.opts.RepeatRequestInterval, func() {
			s.isRepeatedRequest.Store(true)
			s.trigger()
		})
	}
}

// ============================================================================
//                              pending 表
// ============================================================================

func (s *RequestService) hasPending(addr types.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[addr.FullAddress()]
	return ok
}

func (s *RequestService) addPending(key string, h *Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	if _, ok := s.pending[key]; ok {
		return false
	}
	if len(s.pending) >= s.opts.MaxPendingRequests {
		return false
	}
	s.pending[key] = h
	s.setNumPendingLocked()
	return true
}

// removePending h 为 nil 时删除该对端的任意 handler，返回被删除的 handler
func (s *RequestService) removePending(key string, h *Handler) *Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.pending[key]
	if !ok || (h != nil && cur != h) {
		return nil
	}
	delete(s.pending, key)
	s.setNumPendingLocked()
	return cur
}

func (s *RequestService) setNumPendingLocked() {
	n := int32(len(s.pending))
	if s.numPending.Swap(n) == n {
		return
	}
	if s.pendingEmitter != nil {
		_ = s.pendingEmitter.Emit(types.EvtPendingRequestsChanged{
			BaseEvent:  types.NewBaseEvent("inventory.pending"),
			NumPending: int(n),
		})
	}
}

func (s *RequestService) setAllDataReceived(v bool) {
	if s.allDataReceived.Swap(v) == v {
		return
	}
	if s.receivedEmitter != nil {
		_ = s.receivedEmitter.Emit(types.EvtAllDataReceivedChanged{
			BaseEvent:       types.NewBaseEvent("inventory.all_data_received"),
			AllDataReceived: v,
		})
	}
}

// ============================================================================
//                              事件
// ============================================================================

// OnMessage 实现 node.Listener
func (s *RequestService) OnMessage(protocol.NetworkMessage, *connection.Connection, types.NetworkId) {
}

// OnConnection 实现 node.Listener，连接数足够时触发请求
func (s *RequestService) OnConnection(*connection.Connection) {
	if s.sufficientConnections() {
		s.trigger()
	}
}

// OnDisconnect 实现 node.Listener，释放该对端的进行中请求
func (s *RequestService) OnDisconnect(conn *connection.Connection, _ connection.CloseReason) {
	if h := s.removePending(conn.PeerAddress().FullAddress(), nil); h != nil {
		h.Dispose()
	}
}

// OnShutdown 实现 node.Listener
func (s *RequestService) OnShutdown(*node.Node) {}

// OnStateChanged 实现 PeerGroupStateListener
func (s *RequestService) OnStateChanged(state pkgif.PeerGroupState) {
	if state == pkgif.PeerGroupRunning && !s.closed.Load() {
		s.scheduleInitialRequest()
	}
}

// sufficientConnections 连接数至少为目标的一半
func (s *RequestService) sufficientConnections() bool {
	return s.deps.Host.NumConnections()*2 >= s.deps.PeerGroup.TargetNumConnectedPeers()
}

// ============================================================================
//                              查询
// ============================================================================

// NumPendingRequests 返回进行中的请求数
func (s *RequestService) NumPendingRequests() int { return int(s.numPending.Load()) }

// AllDataReceived 报告最近一轮是否全部收敛
func (s *RequestService) AllDataReceived() bool { return s.allDataReceived.Load() }

// IsRepeatedRequest 报告下一轮是否为周期性的重新同步
func (s *RequestService) IsRepeatedRequest() bool { return s.isRepeatedRequest.Load() }

// PendingPeers 返回有进行中请求的对端地址
func (s *RequestService) PendingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for k := range s.pending {
		out = append(out, k)
	}
	return out
}
