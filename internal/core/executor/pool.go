package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-netsync/pkg/lib/log"
)

var logger = log.Logger("core/executor")

// Pool 有界 goroutine 池
//
// Submit 不阻塞调用方；超过容量的任务排队等待信号量。
// 连接读循环这类与连接同寿命的任务用 Go 启动，不占用信号量。
type Pool struct {
	name      string
	sem       *semaphore.Weighted
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	active    atomic.Int64
	longLived atomic.Int64
}

// NewPool 创建容量为 size 的池
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		name:   name,
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Task 已提交任务的句柄
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel 取消任务的 context
func (t *Task) Cancel() {
	t.cancel()
}

// Done 任务结束时关闭
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Submit 提交短任务，fn 的 context 在 Task.Cancel 或池关闭时取消
func (p *Pool) Submit(fn func(ctx context.Context)) (*Task, error) {
	return p.spawn(fn, true)
}

// Go 启动长任务，生命周期由池管理但不受容量限制
func (p *Pool) Go(fn func(ctx context.Context)) (*Task, error) {
	return p.spawn(fn, false)
}

func (p *Pool) spawn(fn func(ctx context.Context), bounded bool) (*Task, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	ctx, cancel := context.WithCancel(p.ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(task.done)
		defer cancel()

		counter := &p.longLived
		if bounded {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer p.sem.Release(1)
			counter = &p.active
		}

		counter.Add(1)
		defer counter.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("任务 panic", "pool", p.name, "panic", r)
			}
		}()
		fn(ctx)
	}()
	return task, nil
}

// Active 返回占用容量的运行中任务数
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// LongLived 返回运行中的长任务数
func (p *Pool) LongLived() int {
	return int(p.longLived.Load())
}

// Close 取消所有任务并等待退出，ctx 到期时提前返回
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("等待任务退出超时", "pool", p.name, "active", p.Active(), "longLived", p.LongLived())
		return ctx.Err()
	}
}
