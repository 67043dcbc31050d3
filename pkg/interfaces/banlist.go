package interfaces

import (
	"time"

	"github.com/dep2p/go-netsync/pkg/types"
)

// BanList 被禁止的对端地址
type BanList interface {
	IsBanned(addr types.Address) bool
	Ban(addr types.Address, d time.Duration)
	Unban(addr types.Address)
}
