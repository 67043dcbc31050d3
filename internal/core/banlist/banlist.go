// Package banlist 维护被禁止的对端地址
//
// 条目按到期时间自动失效，总数由 LRU 容量限制，最久未触及的条目先被淘汰。
package banlist

import (
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/banlist")

// BanList 基于 LRU 的黑名单
type BanList struct {
	clock   clock.Clock
	entries *lru.Cache[string, time.Time]
}

var _ pkgif.BanList = (*BanList)(nil)

// New 创建黑名单
func New(size int, c clock.Clock) (*BanList, error) {
	if c == nil {
		c = clock.New()
	}
	entries, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &BanList{clock: c, entries: entries}, nil
}

// IsBanned 实现 BanList
func (b *BanList) IsBanned(addr types.Address) bool {
	key := addr.FullAddress()
	until, ok := b.entries.Peek(key)
	if !ok {
		return false
	}
	if !b.clock.Now().Before(until) {
		b.entries.Remove(key)
		return false
	}
	return true
}

// Ban 实现 BanList，d <= 0 时使用一年
func (b *BanList) Ban(addr types.Address, d time.Duration) {
	if d <= 0 {
		d = 365 * 24 * time.Hour
	}
	until := b.clock.Now().Add(d)
	b.entries.Add(addr.FullAddress(), until)
	logger.Info("禁止对端", "peer", addr.String(), "until", until)
}

// Unban 实现 BanList
func (b *BanList) Unban(addr types.Address) {
	if b.entries.Remove(addr.FullAddress()) {
		logger.Info("解除禁止", "peer", addr.String())
	}
}

// Len 返回当前条目数（包含尚未清理的过期条目）
func (b *BanList) Len() int {
	return b.entries.Len()
}
