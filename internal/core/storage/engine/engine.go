// Package engine 定义键值存储引擎接口
//
// 引擎只处理原始字节键值。键空间划分由上层 kv.Store 的前缀负责，
// 数据编码由各使用方负责。
package engine

// Engine 键值存储引擎
//
// 所有方法并发安全。关闭后的调用返回 ErrClosed。
type Engine interface {
	// Get 读取键，不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入键值
	Put(key, value []byte) error

	// Delete 删除键，键不存在不报错
	Delete(key []byte) error

	// Has 报告键是否存在
	Has(key []byte) (bool, error)

	// NewBatch 创建批量写入
	NewBatch() Batch

	// NewIterator 创建只读迭代器，使用后必须 Close
	NewIterator(opts IteratorOptions) Iterator

	// Update 在读写事务中执行 fn
	//
	// fn 返回错误时事务回滚。写冲突会自动重试。
	Update(fn func(txn Txn) error) error

	// Close 关闭引擎
	Close() error
}

// Batch 批量写入，Write 之前的修改不可见
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Len 返回累计的操作数
	Len() int

	// Write 提交全部操作
	Write() error

	// Discard 放弃未提交的操作
	Discard()
}

// IteratorOptions 迭代选项
type IteratorOptions struct {
	// Prefix 只遍历带此前缀的键
	Prefix []byte

	// KeysOnly 不预取值
	KeysOnly bool
}

// Iterator 按键字节序遍历
//
//	it := eng.NewIterator(engine.IteratorOptions{Prefix: p})
//	defer it.Close()
//	for it.Next() {
//	    k := it.Key()
//	}
type Iterator interface {
	// Next 前进一步，第一次调用定位到首个键
	Next() bool

	// Key 返回当前键的副本
	Key() []byte

	// Value 返回当前值的副本
	Value() ([]byte, error)

	Close()
}

// Txn 读写事务视图
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}
