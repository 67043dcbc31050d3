package interfaces

import "github.com/dep2p/go-netsync/pkg/protocol"

// DataService 应用收到的数据变更
//
// inventory 服务对响应中的每个条目调用一次。rebroadcast 为 false 时
// 实现方不应再次广播该数据。
type DataService interface {
	// ProcessAddDataRequest 应用新增类请求，返回数据是否被接受
	ProcessAddDataRequest(req protocol.AddDataRequest, rebroadcast bool) (bool, error)

	// ProcessRemoveDataRequest 应用删除类请求，返回数据是否被删除
	ProcessRemoveDataRequest(req protocol.RemoveDataRequest, rebroadcast bool) (bool, error)
}

// InventoryStore 为过滤器和 inventory 响应提供本地数据视图
type InventoryStore interface {
	// KnownEntries 返回所有已知数据的哈希与序号
	KnownEntries() ([]protocol.FilterEntry, error)

	// Missing 返回过滤器未覆盖的数据，编码后总大小不超过 maxBytes
	Missing(filter protocol.DataFilter, maxBytes int) (protocol.Inventory, error)
}
