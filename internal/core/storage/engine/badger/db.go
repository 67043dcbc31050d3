// Package badger 提供基于 BadgerDB 的存储引擎
//
//	eng, err := badger.New(engine.DefaultConfig("/var/lib/netsync/netsync.db"), nil)
//	if err != nil {
//	    return err
//	}
//	eng.Start()
//	defer eng.Close()
package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/dep2p/go-netsync/internal/core/storage/engine"
	"github.com/dep2p/go-netsync/pkg/lib/log"
)

var logger = log.Logger("storage/badger")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	cfg    engine.Config
	clock  clock.Clock
	closed atomic.Bool

	stats struct {
		reads     atomic.Int64
		writes    atomic.Int64
		deletes   atomic.Int64
		conflicts atomic.Int64
	}

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

// New 打开数据库，clk 为 nil 时使用系统时钟
func New(cfg engine.Config, clk clock.Clock) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	db, err := badger.Open(buildOptions(cfg))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Debug("存储引擎已打开", "path", cfg.Path, "inMemory", cfg.InMemory)
	return &Engine{
		db:     db,
		cfg:    cfg,
		clock:  clk,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func buildOptions(cfg engine.Config) badger.Options {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	if cfg.BlockCacheSize > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSize)
	}
	if cfg.Compression > 0 {
		opts = opts.
			WithCompression(options.ZSTD).
			WithZSTDCompressionLevel(cfg.Compression)
	} else {
		opts = opts.WithCompression(options.None)
	}
	return opts
}

// Start 启动值日志垃圾回收，内存模式下无操作
func (e *Engine) Start() {
	if e.cfg.InMemory {
		return
	}
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.gcLoop()
	})
}

func (e *Engine) gcLoop() {
	defer e.wg.Done()

	ticker := e.clock.Ticker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runGC()
		}
	}
}

// runGC 反复回收直到没有可回收的文件
func (e *Engine) runGC() {
	n := 0
	for !e.closed.Load() {
		err := e.db.RunValueLogGC(e.cfg.GCDiscardRatio)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) {
				logger.Debug("值日志回收失败", "error", err)
			}
			break
		}
		n++
	}
	if n > 0 {
		logger.Debug("值日志回收完成", "files", n)
	}
}

// Get 读取键
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}
	e.stats.reads.Add(1)

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		v, err := getValue(txn, key)
		value = v
		return err
	})
	return value, err
}

// Put 写入键值
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	e.stats.writes.Add(1)
	return convertError(e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	}))
}

// Delete 删除键
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	e.stats.deletes.Add(1)
	return convertError(e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}))
}

// Has 报告键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	switch {
	case err == nil:
		return true, nil
	case engine.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Update 在读写事务中执行 fn，冲突时最多重试 MaxTxnRetries 次
func (e *Engine) Update(fn func(txn engine.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if e.closed.Load() {
			return engine.ErrClosed
		}
		err := convertError(e.db.Update(func(txn *badger.Txn) error {
			return fn(&Txn{txn: txn})
		}))
		if !errors.Is(err, engine.ErrConflict) || attempt >= e.cfg.MaxTxnRetries {
			if err == nil {
				e.stats.writes.Add(1)
			}
			return err
		}
		e.stats.conflicts.Add(1)
		logger.Debug("事务冲突，重试", "attempt", attempt+1)
	}
}

// NewBatch 创建批量写入
func (e *Engine) NewBatch() engine.Batch {
	return &WriteBatch{engine: e, batch: e.db.NewWriteBatch()}
}

// NewIterator 创建只读迭代器
func (e *Engine) NewIterator(opts engine.IteratorOptions) engine.Iterator {
	if e.closed.Load() {
		return closedIterator{}
	}
	txn := e.db.NewTransaction(false)
	bopts := badger.DefaultIteratorOptions
	bopts.Prefix = opts.Prefix
	bopts.PrefetchValues = !opts.KeysOnly
	return &Iterator{
		txn:    txn,
		iter:   txn.NewIterator(bopts),
		prefix: opts.Prefix,
	}
}

// Stats 引擎统计
type Stats struct {
	Reads     int64
	Writes    int64
	Deletes   int64
	Conflicts int64
	LSMSize   int64
	VlogSize  int64
}

// Stats 返回引擎统计
func (e *Engine) Stats() Stats {
	lsm, vlog := e.db.Size()
	return Stats{
		Reads:     e.stats.reads.Load(),
		Writes:    e.stats.writes.Load(),
		Deletes:   e.stats.deletes.Load(),
		Conflicts: e.stats.conflicts.Load(),
		LSMSize:   lsm,
		VlogSize:  vlog,
	}
}

// Close 停止后台任务并关闭数据库，重复调用无操作
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.cancel()
	e.wg.Wait()
	return e.db.Close()
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, convertError(err)
	}
	return item.ValueCopy(nil)
}

// convertError 将 BadgerDB 错误映射为引擎错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrConflict):
		return engine.ErrConflict
	case errors.Is(err, badger.ErrTxnTooBig):
		return engine.ErrTxnTooLarge
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}
