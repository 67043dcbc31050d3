package badger

import (
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// WriteBatch BadgerDB 批量写入
//
// Write 或 Discard 之后不可再使用。
type WriteBatch struct {
	engine *Engine
	batch  *badger.WriteBatch
	count  atomic.Int32
	done   atomic.Bool
}

var _ engine.Batch = (*WriteBatch)(nil)

// Put 追加写入，空键被忽略
func (b *WriteBatch) Put(key, value []byte) {
	if b.done.Load() || len(key) == 0 {
		return
	}
	// 错误在 Flush 时统一返回
	_ = b.batch.Set(key, value)
	b.count.Add(1)
}

// Delete 追加删除，空键被忽略
func (b *WriteBatch) Delete(key []byte) {
	if b.done.Load() || len(key) == 0 {
		return
	}
	_ = b.batch.Delete(key)
	b.count.Add(1)
}

// Len 返回累计的操作数
func (b *WriteBatch) Len() int {
	return int(b.count.Load())
}

// Write 提交
func (b *WriteBatch) Write() error {
	if b.done.Swap(true) {
		return engine.ErrClosed
	}
	if b.engine.closed.Load() {
		b.batch.Cancel()
		return engine.ErrClosed
	}
	if err := b.batch.Flush(); err != nil {
		return convertError(err)
	}
	b.engine.stats.writes.Add(int64(b.count.Load()))
	return nil
}

// Discard 放弃
func (b *WriteBatch) Discard() {
	if b.done.Swap(true) {
		return
	}
	b.batch.Cancel()
}
