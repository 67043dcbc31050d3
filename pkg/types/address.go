package types

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// ============================================================================
//                              TransportType - 传输类型
// ============================================================================

// TransportType 传输类型
type TransportType int

const (
	// TransportClear 明网 TCP
	TransportClear TransportType = iota
	// TransportTor Tor 洋葱服务
	TransportTor
	// TransportI2P I2P
	TransportI2P
)

// String 返回传输类型名称
func (t TransportType) String() string {
	switch t {
	case TransportClear:
		return "CLEAR"
	case TransportTor:
		return "TOR"
	case TransportI2P:
		return "I2P"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// ParseTransportType 从名称解析传输类型
func ParseTransportType(s string) (TransportType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLEAR", "CLEARNET", "TCP":
		return TransportClear, nil
	case "TOR":
		return TransportTor, nil
	case "I2P":
		return TransportI2P, nil
	default:
		return 0, fmt.Errorf("unknown transport type %q", s)
	}
}

// ============================================================================
//                              Address - 传输地址
// ============================================================================

// ErrInvalidAddress 无效地址
var ErrInvalidAddress = errors.New("invalid address")

// Address 传输层端点
//
// Host 可以是 IP、域名、onion 地址或 i2p 目的地。
// 作为 map 键使用时必须经过 NewAddress 规范化。
type Address struct {
	Host string
	Port int
}

// NewAddress 创建规范化的地址
func NewAddress(host string, port int) Address {
	return Address{Host: strings.ToLower(strings.TrimSpace(host)), Port: port}
}

// ParseAddress 解析 host:port 格式的地址
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	return NewAddress(host, port), nil
}

// FullAddress 返回规范的 host:port 表示，用作注册表键
func (a Address) FullAddress() string {
	return net.JoinHostPort(strings.ToLower(a.Host), strconv.Itoa(a.Port))
}

// String 实现 fmt.Stringer
func (a Address) String() string {
	return a.FullAddress()
}

// IsZero 报告地址是否为空
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// IsTor 报告是否为 onion 地址
func (a Address) IsTor() bool {
	return strings.HasSuffix(strings.ToLower(a.Host), ".onion")
}

// IsI2P 报告是否为 i2p 地址
func (a Address) IsI2P() bool {
	return strings.HasSuffix(strings.ToLower(a.Host), ".i2p")
}

// IsClear 报告是否为明网地址
func (a Address) IsClear() bool {
	return !a.IsTor() && !a.IsI2P()
}

// TransportType 根据主机名推断传输类型
func (a Address) TransportType() TransportType {
	switch {
	case a.IsTor():
		return TransportTor
	case a.IsI2P():
		return TransportI2P
	default:
		return TransportClear
	}
}

// ============================================================================
//                              AddressByTransportTypeMap
// ============================================================================

// AddressByTransportTypeMap 每种传输类型对应一个地址
type AddressByTransportTypeMap map[TransportType]Address

// Clone 返回副本
func (m AddressByTransportTypeMap) Clone() AddressByTransportTypeMap {
	out := make(AddressByTransportTypeMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Find 查找指定传输类型的地址
func (m AddressByTransportTypeMap) Find(t TransportType) (Address, bool) {
	a, ok := m[t]
	return a, ok
}

// String 以稳定顺序输出
func (m AddressByTransportTypeMap) String() string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		t := TransportType(k)
		parts = append(parts, t.String()+"="+m[t].FullAddress())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
