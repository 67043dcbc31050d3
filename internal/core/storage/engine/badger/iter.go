package badger

import (
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// Iterator 在只读事务快照上遍历
type Iterator struct {
	txn     *badger.Txn
	iter    *badger.Iterator
	prefix  []byte
	started bool
	closed  atomic.Bool
}

var _ engine.Iterator = (*Iterator)(nil)

// Next 前进一步
func (it *Iterator) Next() bool {
	if it.closed.Load() {
		return false
	}
	if !it.started {
		it.started = true
		it.iter.Rewind()
	} else {
		it.iter.Next()
	}
	return it.iter.ValidForPrefix(it.prefix)
}

// Key 返回当前键的副本
func (it *Iterator) Key() []byte {
	if it.closed.Load() || !it.iter.Valid() {
		return nil
	}
	return it.iter.Item().KeyCopy(nil)
}

// Value 返回当前值的副本
func (it *Iterator) Value() ([]byte, error) {
	if it.closed.Load() || !it.iter.Valid() {
		return nil, engine.ErrClosed
	}
	return it.iter.Item().ValueCopy(nil)
}

// Close 释放迭代器与快照，重复调用无操作
func (it *Iterator) Close() {
	if it.closed.Swap(true) {
		return
	}
	it.iter.Close()
	it.txn.Discard()
}

// closedIterator 引擎关闭后返回的空迭代器
type closedIterator struct{}

func (closedIterator) Next() bool             { return false }
func (closedIterator) Key() []byte            { return nil }
func (closedIterator) Value() ([]byte, error) { return nil, engine.ErrClosed }
func (closedIterator) Close()                 {}
