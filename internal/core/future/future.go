// Package future 提供一次性异步结果
//
// Future 只能被完成一次：Complete、Fail、Cancel 中第一个调用生效，
// 之后的调用返回 false。WhenComplete 注册的回调在完成方的 goroutine
// 上按注册顺序执行。
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled 结果被取消
var ErrCancelled = errors.New("future cancelled")

// Future 一次性异步结果
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error

	mu        sync.Mutex
	callbacks []func(T, error)
}

// New 创建未完成的 Future
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed 创建已成功完成的 Future
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	f.Complete(v)
	return f
}

// Failed 创建已失败的 Future
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Complete 以 v 完成
func (f *Future[T]) Complete(v T) bool {
	return f.settle(v, nil)
}

// Fail 以 err 完成
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Cancel 以 ErrCancelled 完成
func (f *Future[T]) Cancel() bool {
	return f.Fail(ErrCancelled)
}

func (f *Future[T]) settle(v T, err error) bool {
	settled := false
	var callbacks []func(T, error)
	f.once.Do(func() {
		f.mu.Lock()
		f.value, f.err = v, err
		callbacks = f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()
		settled = true
	})
	// 回调可能再次操作同一个 Future，必须在 once 之外执行
	for _, fn := range callbacks {
		fn(v, err)
	}
	return settled
}

// WhenComplete 注册完成回调，已完成时立即在调用方 goroutine 执行
func (f *Future[T]) WhenComplete(fn func(v T, err error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f.value, f.err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Done 完成时关闭
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone 报告是否已完成
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result 返回结果，未完成时 ok 为 false
func (f *Future[T]) Result() (v T, ok bool, err error) {
	if !f.IsDone() {
		return v, false, nil
	}
	return f.value, true, f.err
}

// Await 等待完成或 ctx 结束
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// IsCancelled 报告是否以 ErrCancelled 完成
func (f *Future[T]) IsCancelled() bool {
	_, ok, err := f.Result()
	return ok && errors.Is(err, ErrCancelled)
}
