package peergroup

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-netsync/internal/core/connection"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/peergroup")

// Host 对端集合所属的节点，*node.Node 满足该接口
type Host interface {
	GetConnection(ctx context.Context, addr types.Address) (*connection.Connection, error)
	AllConnections() []*connection.Connection
	NumConnections() int
	Capability() types.Capability
}

// Options 参数
type Options struct {
	Seeds                   []types.Address
	TargetNumConnectedPeers int
	MaintenanceInterval     time.Duration
	// DialTimeout 单次拨号时限
	DialTimeout time.Duration
	// MaxConcurrentDials 并发拨号上限
	MaxConcurrentDials int
	// RetryInterval 失败种子的初始退避
	RetryInterval time.Duration
	// MaxBackoff 退避上限
	MaxBackoff time.Duration
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		TargetNumConnectedPeers: 8,
		MaintenanceInterval:     30 * time.Second,
		DialTimeout:             10 * time.Second,
		MaxConcurrentDials:      4,
		RetryInterval:           5 * time.Second,
		MaxBackoff:              5 * time.Minute,
	}
}

// seedHealth 种子拨号状态
type seedHealth struct {
	failures    int
	lastAttempt time.Time
	backoff     time.Duration
}

// StaticManager 基于静态种子列表的 peer group
type StaticManager struct {
	opts  Options
	host  Host
	clock clock.Clock
	seeds map[string]types.Address

	state atomic.Int32

	healthMu sync.Mutex
	health   map[string]*seedHealth

	listenersMu sync.RWMutex
	listeners   map[pkgif.PeerGroupStateListener]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewStaticManager 创建 peer group
func NewStaticManager(opts Options, host Host, c clock.Clock) (*StaticManager, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: host", ErrInvalidDependencies)
	}
	if c == nil {
		c = clock.New()
	}
	def := DefaultOptions()
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = def.MaintenanceInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.MaxConcurrentDials <= 0 {
		opts.MaxConcurrentDials = def.MaxConcurrentDials
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.MaxBackoff < opts.RetryInterval {
		opts.MaxBackoff = opts.RetryInterval
	}
	m := &StaticManager{
		opts:      opts,
		host:      host,
		clock:     c,
		seeds:     make(map[string]types.Address, len(opts.Seeds)),
		health:    make(map[string]*seedHealth),
		listeners: make(map[pkgif.PeerGroupStateListener]struct{}),
	}
	for _, s := range opts.Seeds {
		m.seeds[s.FullAddress()] = s
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})
	return m, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 拨号种子后进入 RUNNING 并启动维护循环
//
// 种子全部不可达时同样进入 RUNNING，维护循环会继续重试。
func (m *StaticManager) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(pkgif.PeerGroupNew), int32(pkgif.PeerGroupStarting)) {
		return ErrAlreadyStarted
	}
	m.notify(pkgif.PeerGroupStarting)

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()
	connected := m.dialSeeds(dctx)
	logger.Info("种子拨号完成", "connected", connected, "seeds", len(m.seeds))

	// 启动期间被 Stop 时不再进入 RUNNING
	if !m.state.CompareAndSwap(int32(pkgif.PeerGroupStarting), int32(pkgif.PeerGroupRunning)) {
		return nil
	}
	m.notify(pkgif.PeerGroupRunning)
	go m.maintenanceLoop()
	return nil
}

// Stop 停止维护循环，不关闭已有连接
func (m *StaticManager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		prev := pkgif.PeerGroupState(m.state.Swap(int32(pkgif.PeerGroupStopping)))
		m.notify(pkgif.PeerGroupStopping)
		m.cancel()
		if prev == pkgif.PeerGroupRunning {
			select {
			case <-m.done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		m.setState(pkgif.PeerGroupTerminated)
	})
	return err
}

func (m *StaticManager) maintenanceLoop() {
	defer close(m.done)
	ticker := m.clock.Ticker(m.opts.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Maintain(m.ctx)
		}
	}
}

// Maintain 连接数低于目标时重新拨号未连接的种子
func (m *StaticManager) Maintain(ctx context.Context) {
	if n := m.host.NumConnections(); n >= m.opts.TargetNumConnectedPeers {
		return
	}
	if connected := m.dialSeeds(ctx); connected > 0 {
		logger.Debug("维护拨号完成", "connected", connected, "total", m.host.NumConnections())
	}
}

// dialSeeds 并发拨号未连接且不在退避期的种子，返回成功数
func (m *StaticManager) dialSeeds(ctx context.Context) int {
	targets := m.dialTargets()
	if len(targets) == 0 {
		return 0
	}
	var connected atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.MaxConcurrentDials)
	for _, addr := range targets {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, m.opts.DialTimeout)
			defer cancel()
			if _, err := m.host.GetConnection(dctx, addr); err != nil {
				m.recordFailure(addr, err)
				return nil
			}
			m.recordSuccess(addr)
			connected.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(connected.Load())
}

func (m *StaticManager) dialTargets() []types.Address {
	self := m.host.Capability().Address.FullAddress()
	connected := make(map[string]struct{})
	for _, c := range m.host.AllConnections() {
		connected[c.PeerAddress().FullAddress()] = struct{}{}
	}
	now := m.clock.Now()

	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	out := make([]types.Address, 0, len(m.seeds))
	for key, addr := range m.seeds {
		if key == self {
			continue
		}
		if _, ok := connected[key]; ok {
			continue
		}
		if h, ok := m.health[key]; ok && now.Sub(h.lastAttempt) < h.backoff {
			continue
		}
		out = append(out, addr)
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (m *StaticManager) recordSuccess(addr types.Address) {
	m.healthMu.Lock()
	delete(m.health, addr.FullAddress())
	m.healthMu.Unlock()
}

func (m *StaticManager) recordFailure(addr types.Address, err error) {
	m.healthMu.Lock()
	h, ok := m.health[addr.FullAddress()]
	if !ok {
		h = &seedHealth{}
		m.health[addr.FullAddress()] = h
	}
	h.failures++
	h.lastAttempt = m.clock.Now()
	h.backoff = backoff(m.opts.RetryInterval, m.opts.MaxBackoff, h.failures)
	failures, next := h.failures, h.backoff
	m.healthMu.Unlock()

	logger.Debug("拨号种子失败", "seed", addr.String(), "failures", failures, "nextBackoff", next, "error", err)
}

// backoff 返回 base * 2^(failures-1)，不超过 max
func backoff(base, limit time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

// ============================================================================
//                              查询
// ============================================================================

// State 返回当前状态
func (m *StaticManager) State() pkgif.PeerGroupState {
	return pkgif.PeerGroupState(m.state.Load())
}

func (m *StaticManager) setState(s pkgif.PeerGroupState) {
	if pkgif.PeerGroupState(m.state.Swap(int32(s))) == s {
		return
	}
	logger.Debug("peer group 状态变化", "state", s.String())
	m.notify(s)
}

// IsSeed 报告 addr 是否为种子
func (m *StaticManager) IsSeed(addr types.Address) bool {
	_, ok := m.seeds[addr.FullAddress()]
	return ok
}

// ShuffledSeedConnections 返回打乱顺序的种子连接
func (m *StaticManager) ShuffledSeedConnections() []*connection.Connection {
	return m.shuffled(true)
}

// ShuffledNonSeedConnections 返回打乱顺序的非种子连接
func (m *StaticManager) ShuffledNonSeedConnections() []*connection.Connection {
	return m.shuffled(false)
}

func (m *StaticManager) shuffled(seeds bool) []*connection.Connection {
	all := m.host.AllConnections()
	out := make([]*connection.Connection, 0, len(all))
	for _, c := range all {
		if c.IsRunning() && m.IsSeed(c.PeerAddress()) == seeds {
			out = append(out, c)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// TargetNumConnectedPeers 返回目标连接数
func (m *StaticManager) TargetNumConnectedPeers() int { return m.opts.TargetNumConnectedPeers }

// SeedFailures 返回种子连续拨号失败次数
func (m *StaticManager) SeedFailures(addr types.Address) int {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	if h, ok := m.health[addr.FullAddress()]; ok {
		return h.failures
	}
	return 0
}

// ============================================================================
//                              监听器
// ============================================================================

// AddStateListener 注册状态监听器
func (m *StaticManager) AddStateListener(l pkgif.PeerGroupStateListener) {
	m.listenersMu.Lock()
	m.listeners[l] = struct{}{}
	m.listenersMu.Unlock()
}

// RemoveStateListener 注销状态监听器
func (m *StaticManager) RemoveStateListener(l pkgif.PeerGroupStateListener) {
	m.listenersMu.Lock()
	delete(m.listeners, l)
	m.listenersMu.Unlock()
}

func (m *StaticManager) notify(s pkgif.PeerGroupState) {
	m.listenersMu.RLock()
	ls := make([]pkgif.PeerGroupStateListener, 0, len(m.listeners))
	for l := range m.listeners {
		ls = append(ls, l)
	}
	m.listenersMu.RUnlock()
	for _, l := range ls {
		l.OnStateChanged(s)
	}
}
