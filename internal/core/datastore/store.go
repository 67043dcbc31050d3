package datastore

import (
	"bytes"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
	"github.com/dep2p/go-netsync/internal/core/storage/kv"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/datastore")

// DefaultSeenCacheSize 默认已处理哈希缓存大小
const DefaultSeenCacheSize = 10000

// Listener 数据变更监听器
//
// 回调在处理请求的 goroutine 上同步执行。
type Listener interface {
	OnAdded(req protocol.AddDataRequest, rebroadcast bool)
	OnRemoved(req protocol.RemoveDataRequest, rebroadcast bool)
}

// Store 基于 KV 的数据存储
type Store struct {
	kv *kv.Store

	// seen 缓存哈希的最新序号，命中且请求不更新时免去一次事务
	seen *lru.Cache[string, int32]

	mu        sync.RWMutex
	listeners []Listener
	closed    bool

	addedEmitter   pkgif.Emitter
	removedEmitter pkgif.Emitter
}

var (
	_ pkgif.DataService    = (*Store)(nil)
	_ pkgif.InventoryStore = (*Store)(nil)
)

// New 在 eng 的 "ds/" 键空间上创建存储，bus 可以为 nil
func New(eng engine.Engine, seenCacheSize int, bus pkgif.EventBus) (*Store, error) {
	if eng == nil {
		return nil, fmt.Errorf("datastore: engine is nil")
	}
	if seenCacheSize <= 0 {
		seenCacheSize = DefaultSeenCacheSize
	}
	seen, err := lru.New[string, int32](seenCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Store{
		kv:   kv.New(eng, []byte("ds/")),
		seen: seen,
	}
	if bus != nil {
		if s.addedEmitter, err = bus.Emitter(new(types.EvtDataAdded)); err != nil {
			return nil, fmt.Errorf("data added emitter: %w", err)
		}
		if s.removedEmitter, err = bus.Emitter(new(types.EvtDataRemoved)); err != nil {
			return nil, fmt.Errorf("data removed emitter: %w", err)
		}
	}
	return s, nil
}

// Close 关闭事件发射器，之后的写入返回 ErrClosed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.addedEmitter != nil {
		_ = s.addedEmitter.Close()
	}
	if s.removedEmitter != nil {
		_ = s.removedEmitter.Close()
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// AddListener 注册监听器
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// RemoveListener 移除监听器
func (s *Store) RemoveListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Store) snapshotListeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}

// ============================================================================
//                              DataService
// ============================================================================

// ProcessAddDataRequest 保存新数据或更高序号的数据
//
// 只追加数据重复时返回 false；其他数据序号不高于已知序号时返回 false。
func (s *Store) ProcessAddDataRequest(req protocol.AddDataRequest, rebroadcast bool) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	hash := req.Hash()
	seq := req.SequenceNumber()
	appendOnly := req.DataKind() == protocol.DataAddAppendOnly

	if known, ok := s.seen.Get(string(hash)); ok && (appendOnly || seq <= known) {
		return false, nil
	}

	accepted := false
	err := s.kv.Update(func(tx *kv.Txn) error {
		known, found, err := getSequence(tx, hash)
		if err != nil {
			return err
		}
		if found && (appendOnly || seq <= known) {
			s.seen.Add(string(hash), known)
			return nil
		}
		if err := tx.Set(dataKey(hash), protocol.MarshalDataRequest(req)); err != nil {
			return err
		}
		if err := tx.Set(sequenceKey(hash), encodeSequence(seq)); err != nil {
			return err
		}
		if err := tx.Delete(removedKey(hash)); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil || !accepted {
		return false, err
	}

	s.seen.Add(string(hash), seq)
	logger.Debug("数据已保存", "hash", protocol.HashString(hash), "kind", req.DataKind(), "seq", seq)
	if s.addedEmitter != nil {
		_ = s.addedEmitter.Emit(types.EvtDataAdded{
			BaseEvent: types.NewBaseEvent("data.added"),
			Hash:      hash,
			Kind:      req.DataKind().String(),
		})
	}
	for _, l := range s.snapshotListeners() {
		l.OnAdded(req, rebroadcast)
	}
	return true, nil
}

// ProcessRemoveDataRequest 删除已有数据并保留序号墓碑
//
// 数据不存在、为只追加数据、类型不匹配或序号不更新时返回 false。
func (s *Store) ProcessRemoveDataRequest(req protocol.RemoveDataRequest, rebroadcast bool) (bool, error) {
	if s.isClosed() {
		return false, ErrClosed
	}
	hash := req.Hash()
	seq := req.SequenceNumber()

	removed := false
	err := s.kv.Update(func(tx *kv.Txn) error {
		raw, err := tx.Get(dataKey(hash))
		if engine.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		stored, err := protocol.UnmarshalDataRequest(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", engine.ErrCorrupted, err)
		}
		if !removes(req.DataKind(), stored.DataKind()) {
			logger.Debug("删除请求类型不匹配", "hash", protocol.HashString(hash),
				"remove", req.DataKind(), "stored", stored.DataKind())
			return nil
		}
		if seq <= stored.SequenceNumber() {
			return nil
		}
		if err := tx.Delete(dataKey(hash)); err != nil {
			return err
		}
		if err := tx.Set(sequenceKey(hash), encodeSequence(seq)); err != nil {
			return err
		}
		if err := tx.Set(removedKey(hash), protocol.MarshalDataRequest(req)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil || !removed {
		return false, err
	}

	s.seen.Add(string(hash), seq)
	logger.Debug("数据已删除", "hash", protocol.HashString(hash), "seq", seq)
	if s.removedEmitter != nil {
		_ = s.removedEmitter.Emit(types.EvtDataRemoved{
			BaseEvent: types.NewBaseEvent("data.removed"),
			Hash:      hash,
			Kind:      req.DataKind().String(),
		})
	}
	for _, l := range s.snapshotListeners() {
		l.OnRemoved(req, rebroadcast)
	}
	return true, nil
}

// removes 报告 remove 类型能否删除 stored 类型的数据
func removes(remove, stored protocol.DataKind) bool {
	switch remove {
	case protocol.DataRemoveAuthenticated:
		return stored == protocol.DataAddAuthenticated
	case protocol.DataRemoveMailbox:
		return stored == protocol.DataAddMailbox
	default:
		return false
	}
}

func getSequence(tx *kv.Txn, hash []byte) (int32, bool, error) {
	raw, err := tx.Get(sequenceKey(hash))
	if engine.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	seq, err := decodeSequence(raw)
	return seq, err == nil, err
}

// ============================================================================
//                              查询
// ============================================================================

// Get 返回哈希对应的数据
func (s *Store) Get(hash []byte) (protocol.AddDataRequest, error) {
	raw, err := s.kv.Get(dataKey(hash))
	if err != nil {
		return nil, err
	}
	req, err := protocol.UnmarshalDataRequest(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrCorrupted, err)
	}
	add, ok := req.(protocol.AddDataRequest)
	if !ok {
		return nil, engine.ErrCorrupted
	}
	return add, nil
}

// NumEntries 返回现存数据条数
func (s *Store) NumEntries() (int, error) {
	return s.kv.Count(prefixData)
}

// KnownEntries 返回所有已知哈希及其最新序号，包括已删除数据的墓碑
func (s *Store) KnownEntries() ([]protocol.FilterEntry, error) {
	var (
		entries []protocol.FilterEntry
		decErr  error
	)
	err := s.kv.Scan(prefixSequence, func(k, v []byte) bool {
		seq, err := decodeSequence(v)
		if err != nil {
			decErr = err
			return false
		}
		entries = append(entries, protocol.FilterEntry{
			Hash:     bytes.Clone(k[len(prefixSequence):]),
			Sequence: seq,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, decErr
}

// Missing 计算请求方缺少的数据
//
// 请求方未知或序号落后的数据以新增请求返回；请求方仍持有但本地已删除的数据
// 以删除请求返回。maxBytes 大于 0 时累计编码大小超出即停止并设置 MaxSizeReached；
// 结果至少包含一条，即使这一条本身超过 maxBytes。
func (s *Store) Missing(filter protocol.DataFilter, maxBytes int) (protocol.Inventory, error) {
	if filter.FilterType != protocol.FilterHashSet {
		return protocol.Inventory{}, fmt.Errorf("%w: %s", ErrUnsupportedFilter, filter.FilterType)
	}
	known := make(map[string]int32, len(filter.Entries))
	for _, e := range filter.Entries {
		known[string(e.Hash)] = e.Sequence
	}

	var (
		inv     protocol.Inventory
		size    int
		scanErr error
	)
	collect := func(prefix []byte, wanted func(hash []byte, req protocol.DataRequest) bool) error {
		return s.kv.Scan(prefix, func(k, v []byte) bool {
			req, err := protocol.UnmarshalDataRequest(v)
			if err != nil {
				scanErr = fmt.Errorf("%w: %v", engine.ErrCorrupted, err)
				return false
			}
			if !wanted(k[len(prefix):], req) {
				return true
			}
			n := protocol.EncodedSize(req)
			if maxBytes > 0 && size+n > maxBytes {
				if len(inv.Entries) > 0 {
					inv.MaxSizeReached = true
					return false
				}
				// 单条超限时仍然返回，否则请求方永远停在这一条上
				logger.Warn("单条数据超过 inventory 上限", "size", n, "max", maxBytes)
			}
			size += n
			inv.Entries = append(inv.Entries, req)
			return true
		})
	}

	err := collect(prefixData, func(hash []byte, req protocol.DataRequest) bool {
		seq, ok := known[string(hash)]
		return !ok || req.SequenceNumber() > seq
	})
	if err == nil && scanErr == nil && !inv.MaxSizeReached {
		err = collect(prefixRemoved, func(hash []byte, req protocol.DataRequest) bool {
			seq, ok := known[string(hash)]
			return ok && req.SequenceNumber() > seq
		})
	}
	if err != nil {
		return protocol.Inventory{}, err
	}
	if scanErr != nil {
		return protocol.Inventory{}, scanErr
	}
	return inv, nil
}
