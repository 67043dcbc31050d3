package protocol

import (
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================================================
//                              过滤器
// ============================================================================

// FilterType inventory 过滤器的表示方式
type FilterType uint32

const (
	FilterUnknown FilterType = iota
	// FilterHashSet 已知数据哈希集合
	FilterHashSet
	// FilterMiniSketch 集合调和草图
	FilterMiniSketch
)

// String 返回过滤器类型名称
func (t FilterType) String() string {
	switch t {
	case FilterHashSet:
		return "HASH_SET"
	case FilterMiniSketch:
		return "MINI_SKETCH"
	default:
		return fmt.Sprintf("FilterType(%d)", uint32(t))
	}
}

// ParseFilterType 从名称解析过滤器类型
func ParseFilterType(s string) (FilterType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HASH_SET":
		return FilterHashSet, nil
	case "MINI_SKETCH":
		return FilterMiniSketch, nil
	default:
		return FilterUnknown, fmt.Errorf("unknown filter type %q", s)
	}
}

// FilterEntry 过滤器中一个已知数据项
type FilterEntry struct {
	Hash     []byte
	Sequence int32
}

// DataFilter 请求方已知数据的摘要，响应方据此计算差量
type DataFilter struct {
	FilterType FilterType
	Entries    []FilterEntry
}

func (f DataFilter) appendWire(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(f.FilterType))
	for _, e := range f.Entries {
		var eb []byte
		eb = appendBytesField(eb, 1, e.Hash)
		eb = appendVarintField(eb, 2, int32ToVarint(e.Sequence))
		b = appendMessageField(b, 2, eb)
	}
	return b
}

func unmarshalFilter(b []byte) (DataFilter, error) {
	var f DataFilter
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			f.FilterType = FilterType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			var e FilterEntry
			err = consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case 1:
					h, m, err := consumeBytes(num, typ, b)
					e.Hash = h
					return m, err
				case 2:
					s, m, err := consumeVarint(num, typ, b)
					e.Sequence = varintToInt32(s)
					return m, err
				}
				return 0, nil
			})
			f.Entries = append(f.Entries, e)
			return n, err
		}
		return 0, nil
	})
	return f, err
}

// ============================================================================
//                              Inventory
// ============================================================================

// Inventory 对端根据过滤器返回的数据变更差量
type Inventory struct {
	Entries []DataRequest
	// MaxSizeReached 响应因大小上限被截断
	MaxSizeReached bool
}

// NoDataMissing 报告对端是否已返回全部缺失数据
func (i Inventory) NoDataMissing() bool {
	return !i.MaxSizeReached
}

// Summary 按类型统计条目数，用于日志
func (i Inventory) Summary() string {
	counts := map[DataKind]int{}
	for _, e := range i.Entries {
		counts[e.DataKind()]++
	}
	kinds := make([]int, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, int(k))
	}
	sort.Ints(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", DataKind(k), counts[DataKind(k)]))
	}
	return fmt.Sprintf("entries=%d [%s] maxSizeReached=%t", len(i.Entries), strings.Join(parts, ", "), i.MaxSizeReached)
}

func (i Inventory) appendWire(b []byte) []byte {
	for _, e := range i.Entries {
		b = appendMessageField(b, 1, appendDataRequest(nil, e))
	}
	return appendVarintField(b, 2, boolToVarint(i.MaxSizeReached))
}

func unmarshalInventory(b []byte) (Inventory, error) {
	var inv Inventory
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			r, err := UnmarshalDataRequest(v)
			if err != nil {
				return 0, err
			}
			inv.Entries = append(inv.Entries, r)
			return n, nil
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			inv.MaxSizeReached = v != 0
			return n, err
		}
		return 0, nil
	})
	return inv, err
}

// ============================================================================
//                              请求 / 响应
// ============================================================================

// InventoryRequest 携带过滤器的同步请求
type InventoryRequest struct {
	Filter DataFilter
	Nonce  int32
}

// Kind 实现 NetworkMessage
func (*InventoryRequest) Kind() MessageKind { return KindInventoryRequest }

// AppendWire 实现 NetworkMessage
func (m *InventoryRequest) AppendWire(b []byte) []byte {
	b = appendMessageField(b, 1, m.Filter.appendWire(nil))
	return appendVarintField(b, 2, int32ToVarint(m.Nonce))
}

func unmarshalInventoryRequest(b []byte) (NetworkMessage, error) {
	m := &InventoryRequest{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.Filter, err = unmarshalFilter(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			m.Nonce = varintToInt32(v)
			return n, err
		}
		return 0, nil
	})
	return m, err
}

// InventoryResponse 对 InventoryRequest 的响应，RequestNonce 与请求的 Nonce 对应
type InventoryResponse struct {
	Inventory    Inventory
	RequestNonce int32
}

// Kind 实现 NetworkMessage
func (*InventoryResponse) Kind() MessageKind { return KindInventoryResponse }

// AppendWire 实现 NetworkMessage
func (m *InventoryResponse) AppendWire(b []byte) []byte {
	b = appendMessageField(b, 1, m.Inventory.appendWire(nil))
	return appendVarintField(b, 2, int32ToVarint(m.RequestNonce))
}

func unmarshalInventoryResponse(b []byte) (NetworkMessage, error) {
	m := &InventoryResponse{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.Inventory, err = unmarshalInventory(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			m.RequestNonce = varintToInt32(v)
			return n, err
		}
		return 0, nil
	})
	return m, err
}
