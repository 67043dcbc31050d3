package outbound

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-netsync/internal/core/future"
	"github.com/dep2p/go-netsync/pkg/types"
)

// ChannelFuture 出站连接请求的结果
type ChannelFuture = future.Future[*ConnectionChannel]

// Multiplexer 出站连接复用器
//
// 每个实例恰好一个 reactor goroutine。reactor 在管理器激活前阻塞，
// 之后循环等待就绪事件并交给管理器处理。
type Multiplexer struct {
	manager *Manager

	mu      sync.Mutex
	pending map[string]*ChannelFuture

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopped   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

var _ ManagerListener = (*Multiplexer)(nil)

// NewMultiplexer 创建复用器
func NewMultiplexer(manager *Manager) *Multiplexer {
	return &Multiplexer{
		manager: manager,
		pending: make(map[string]*ChannelFuture),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start 启动 reactor，重复调用无效
func (x *Multiplexer) Start() error {
	if x.stopped.Load() {
		return ErrReactorClosed
	}
	x.startOnce.Do(func() {
		x.manager.AddListener(x)
		x.started.Store(true)
		go x.run()
	})
	return nil
}

func (x *Multiplexer) run() {
	defer close(x.done)

	select {
	case <-x.manager.Activated():
	case <-x.stopCh:
		return
	}

	x.manager.setReactorRunning(true)
	defer x.manager.setReactorRunning(false)
	logger.Debug("出站 reactor 已启动")

	for {
		select {
		case <-x.stopCh:
			return
		default:
		}

		events, err := x.manager.poller.wait(x.manager.opts.PollTimeout)
		if err != nil {
			if x.stopped.Load() {
				return
			}
			logger.Error("出站 reactor 轮询失败，事件循环退出", "error", err)
			x.failAll(fmt.Errorf("%w: %v", ErrReactorClosed, err))
			return
		}
		for _, ev := range events {
			x.manager.handleEvent(ev)
		}
		x.manager.reap()
	}
}

// GetConnection 返回到 addr 的出站连接
//
// 已有活跃连接时返回已完成的结果；否则登记等待中的结果并发起非阻塞
// 连接。对同一地址的并发请求共享同一个结果。ctx 只用于地址解析，
// 调用方通过 Await 控制等待时长。
func (x *Multiplexer) GetConnection(ctx context.Context, addr types.Address) *ChannelFuture {
	if x.stopped.Load() {
		return future.Failed[*ConnectionChannel](ErrReactorClosed)
	}
	if ch, ok := x.manager.Connection(addr); ok {
		return future.Completed(ch)
	}

	key := addr.FullAddress()
	x.mu.Lock()
	if f, ok := x.pending[key]; ok && !f.IsDone() {
		x.mu.Unlock()
		return f
	}
	f := future.New[*ConnectionChannel]()
	x.pending[key] = f
	x.mu.Unlock()

	if err := x.manager.CreateNewConnection(ctx, addr); err != nil {
		x.take(key)
		f.Fail(err)
		return f
	}
	// 连接可能在登记之前已经建立
	if ch, ok := x.manager.Connection(addr); ok {
		x.complete(key, ch)
	}
	return f
}

// OnNewConnection 实现 ManagerListener
func (x *Multiplexer) OnNewConnection(ch *ConnectionChannel) {
	x.complete(ch.PeerAddress().FullAddress(), ch)
}

// OnConnectionFailed 实现 ManagerListener
func (x *Multiplexer) OnConnectionFailed(addr types.Address, err error) {
	if f := x.take(addr.FullAddress()); f != nil {
		f.Fail(err)
	}
}

func (x *Multiplexer) complete(key string, ch *ConnectionChannel) {
	if f := x.take(key); f != nil {
		f.Complete(ch)
	}
}

func (x *Multiplexer) take(key string) *ChannelFuture {
	x.mu.Lock()
	defer x.mu.Unlock()
	f := x.pending[key]
	delete(x.pending, key)
	return f
}

func (x *Multiplexer) failAll(err error) {
	x.mu.Lock()
	pending := x.pending
	x.pending = make(map[string]*ChannelFuture)
	x.mu.Unlock()
	for _, f := range pending {
		f.Fail(err)
	}
}

// NumPending 返回等待中的连接请求数
func (x *Multiplexer) NumPending() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.pending)
}

// AllOutboundConnections 返回所有活跃通道
func (x *Multiplexer) AllOutboundConnections() []*ConnectionChannel {
	return x.manager.AllOutboundConnections()
}

// Manager 返回底层连接管理器
func (x *Multiplexer) Manager() *Manager { return x.manager }

// Shutdown 停止 reactor 并关闭所有通道，重复调用无效
func (x *Multiplexer) Shutdown(ctx context.Context) error {
	var err error
	x.stopOnce.Do(func() {
		x.stopped.Store(true)
		close(x.stopCh)
		_ = x.manager.poller.wake()

		if x.started.Load() {
			select {
			case <-x.done:
			case <-ctx.Done():
				err = fmt.Errorf("wait for reactor: %w", ctx.Err())
			}
		}
		x.manager.RemoveListener(x)
		if cerr := x.manager.Close(); err == nil {
			err = cerr
		}
		x.failAll(ErrReactorClosed)
		logger.Debug("出站复用器已关闭")
	})
	return err
}
