package inventory

import (
	"fmt"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// FilterService 为请求构造本地数据的过滤器
type FilterService interface {
	Type() protocol.FilterType
	Filter() (protocol.DataFilter, error)
}

// FilterTypeFromFeature 返回特性对应的过滤器类型
func FilterTypeFromFeature(f types.Feature) (protocol.FilterType, bool) {
	switch f {
	case types.FeatureInventoryHashSet:
		return protocol.FilterHashSet, true
	case types.FeatureInventoryMiniSketch:
		return protocol.FilterMiniSketch, true
	default:
		return protocol.FilterUnknown, false
	}
}

// FilterTypesFromFeatures 返回特性列表支持的过滤器类型，保持顺序
func FilterTypesFromFeatures(features []types.Feature) []protocol.FilterType {
	out := make([]protocol.FilterType, 0, len(features))
	for _, f := range features {
		if t, ok := FilterTypeFromFeature(f); ok {
			out = append(out, t)
		}
	}
	return out
}

// HashSetFilterService 以已知数据哈希集合作为过滤器
type HashSetFilterService struct {
	store pkgif.InventoryStore
}

var _ FilterService = (*HashSetFilterService)(nil)

// NewHashSetFilterService 创建 HASH_SET 过滤器服务
func NewHashSetFilterService(store pkgif.InventoryStore) *HashSetFilterService {
	return &HashSetFilterService{store: store}
}

// Type 实现 FilterService
func (s *HashSetFilterService) Type() protocol.FilterType { return protocol.FilterHashSet }

// Filter 实现 FilterService
func (s *HashSetFilterService) Filter() (protocol.DataFilter, error) {
	entries, err := s.store.KnownEntries()
	if err != nil {
		return protocol.DataFilter{}, fmt.Errorf("load known entries: %w", err)
	}
	return protocol.DataFilter{FilterType: protocol.FilterHashSet, Entries: entries}, nil
}
