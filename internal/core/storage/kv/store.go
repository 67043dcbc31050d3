// Package kv 在存储引擎之上提供前缀隔离的键空间
//
// # 键空间
//
// netsync 使用以下前缀：
//   - ds/d/ - 数据条目，键为数据哈希，值为编码后的新增请求
//   - ds/s/ - 数据序号，删除后保留为墓碑
//   - ds/r/ - 删除请求，供 inventory 响应转发
//   - ds/m/ - 存储元数据
//
// 示例：
//
//	data := kv.New(eng, []byte("ds/"))
//	entries := data.SubStore([]byte("d/"))
//	entries.Put(hash, encoded) // 实际键: ds/d/<hash>
package kv

import (
	"encoding/binary"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
)

// Store 带前缀的 KV 视图
type Store struct {
	engine engine.Engine
	prefix []byte
}

// New 创建 prefix 下的视图
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{engine: eng, prefix: append([]byte(nil), prefix...)}
}

func (s *Store) key(k []byte) []byte {
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Prefix 返回视图前缀
func (s *Store) Prefix() []byte {
	return append([]byte(nil), s.prefix...)
}

// SubStore 返回嵌套前缀视图
func (s *Store) SubStore(sub []byte) *Store {
	return New(s.engine, s.key(sub))
}

// Get 读取键
func (s *Store) Get(k []byte) ([]byte, error) {
	return s.engine.Get(s.key(k))
}

// Put 写入键值
func (s *Store) Put(k, v []byte) error {
	return s.engine.Put(s.key(k), v)
}

// Delete 删除键
func (s *Store) Delete(k []byte) error {
	return s.engine.Delete(s.key(k))
}

// Has 报告键是否存在
func (s *Store) Has(k []byte) (bool, error) {
	return s.engine.Has(s.key(k))
}

// GetUint64 读取大端 uint64
func (s *Store) GetUint64(k []byte) (uint64, error) {
	v, err := s.Get(k)
	if err != nil {
		return 0, err
	}
	return DecodeUint64(v)
}

// PutUint64 写入大端 uint64
func (s *Store) PutUint64(k []byte, v uint64) error {
	return s.Put(k, EncodeUint64(v))
}

// Scan 按键序遍历 sub 前缀下的条目，回调收到的键已去掉视图前缀
//
// fn 返回 false 时停止。
func (s *Store) Scan(sub []byte, fn func(k, v []byte) bool) error {
	full := s.key(sub)
	it := s.engine.NewIterator(engine.IteratorOptions{Prefix: full})
	defer it.Close()

	for it.Next() {
		v, err := it.Value()
		if err != nil {
			return err
		}
		if !fn(it.Key()[len(s.prefix):], v) {
			return nil
		}
	}
	return nil
}

// Keys 返回 sub 前缀下的所有键
func (s *Store) Keys(sub []byte) ([][]byte, error) {
	full := s.key(sub)
	it := s.engine.NewIterator(engine.IteratorOptions{Prefix: full, KeysOnly: true})
	defer it.Close()

	var keys [][]byte
	for it.Next() {
		keys = append(keys, it.Key()[len(s.prefix):])
	}
	return keys, nil
}

// Count 返回 sub 前缀下的键数
func (s *Store) Count(sub []byte) (int, error) {
	keys, err := s.Keys(sub)
	return len(keys), err
}

// DeletePrefix 删除 sub 前缀下的所有键
func (s *Store) DeletePrefix(sub []byte) error {
	keys, err := s.Keys(sub)
	if err != nil || len(keys) == 0 {
		return err
	}
	b := s.NewBatch()
	for _, k := range keys {
		b.Delete(k)
	}
	return b.Write()
}

// ============================================================================
//                              批量与事务
// ============================================================================

// Batch 带前缀的批量写入
type Batch struct {
	store *Store
	batch engine.Batch
}

// NewBatch 创建批量写入
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, batch: s.engine.NewBatch()}
}

// Put 追加写入
func (b *Batch) Put(k, v []byte) { b.batch.Put(b.store.key(k), v) }

// Delete 追加删除
func (b *Batch) Delete(k []byte) { b.batch.Delete(b.store.key(k)) }

// Len 返回累计的操作数
func (b *Batch) Len() int { return b.batch.Len() }

// Write 提交
func (b *Batch) Write() error { return b.batch.Write() }

// Discard 放弃
func (b *Batch) Discard() { b.batch.Discard() }

// Txn 带前缀的事务视图
type Txn struct {
	store *Store
	txn   engine.Txn
}

// Update 在读写事务中执行 fn
func (s *Store) Update(fn func(tx *Txn) error) error {
	return s.engine.Update(func(txn engine.Txn) error {
		return fn(&Txn{store: s, txn: txn})
	})
}

// Get 读取键
func (t *Txn) Get(k []byte) ([]byte, error) { return t.txn.Get(t.store.key(k)) }

// Set 写入键值
func (t *Txn) Set(k, v []byte) error { return t.txn.Set(t.store.key(k), v) }

// Delete 删除键
func (t *Txn) Delete(k []byte) error { return t.txn.Delete(t.store.key(k)) }

// EncodeUint64 大端编码
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeUint64 大端解码
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, engine.ErrCorrupted
	}
	return binary.BigEndian.Uint64(b), nil
}
