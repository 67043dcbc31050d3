package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// Txn 包装 Update 回调中的 badger 事务
//
// 只在回调内有效，不得跨 goroutine 使用。
type Txn struct {
	txn *badger.Txn
}

var _ engine.Txn = (*Txn)(nil)

// Get 读取事务视图中的键
func (t *Txn) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}
	return getValue(t.txn, key)
}

// Set 在事务中写入
func (t *Txn) Set(key, value []byte) error {
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Set(key, value))
}

// Delete 在事务中删除
func (t *Txn) Delete(key []byte) error {
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return convertError(t.txn.Delete(key))
}
