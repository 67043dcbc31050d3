package types

import (
	"fmt"
	"strings"
)

// Feature 节点声明支持的特性
type Feature int

const (
	// FeatureInventoryHashSet 支持 HASH_SET 形式的 inventory 过滤器
	FeatureInventoryHashSet Feature = iota + 1
	// FeatureInventoryMiniSketch 支持 MINI_SKETCH 形式的 inventory 过滤器
	FeatureInventoryMiniSketch
	// FeatureAuthorizationHashCash 支持 hashcash 授权
	FeatureAuthorizationHashCash
)

// String 返回特性名称
func (f Feature) String() string {
	switch f {
	case FeatureInventoryHashSet:
		return "INVENTORY_HASH_SET"
	case FeatureInventoryMiniSketch:
		return "INVENTORY_MINI_SKETCH"
	case FeatureAuthorizationHashCash:
		return "AUTHORIZATION_HASH_CASH"
	default:
		return fmt.Sprintf("FEATURE(%d)", int(f))
	}
}

// ParseFeature 从名称解析特性
func ParseFeature(s string) (Feature, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INVENTORY_HASH_SET":
		return FeatureInventoryHashSet, nil
	case "INVENTORY_MINI_SKETCH":
		return FeatureInventoryMiniSketch, nil
	case "AUTHORIZATION_HASH_CASH":
		return FeatureAuthorizationHashCash, nil
	default:
		return 0, fmt.Errorf("unknown feature %q", s)
	}
}

// Capability 节点在握手时声明的地址与特性集合
//
// 握手完成后由 Connection 持有，不再修改。
type Capability struct {
	Address                 Address
	SupportedTransportTypes []TransportType
	Features                []Feature
}

// NewCapability 创建 Capability（复制切片）
func NewCapability(address Address, transports []TransportType, features []Feature) Capability {
	return Capability{
		Address:                 address,
		SupportedTransportTypes: append([]TransportType(nil), transports...),
		Features:                append([]Feature(nil), features...),
	}
}

// HasFeature 报告是否支持某特性
func (c Capability) HasFeature(f Feature) bool {
	for _, feature := range c.Features {
		if feature == f {
			return true
		}
	}
	return false
}

// String 实现 fmt.Stringer
func (c Capability) String() string {
	return fmt.Sprintf("Capability[address=%s, features=%v]", c.Address, c.Features)
}
