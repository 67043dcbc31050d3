package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// PubKey 公钥材料
//
// KeyID 是公钥的短标识（通常是哈希），用于日志和 mailbox 寻址。
type PubKey struct {
	KeyID     string
	PublicKey []byte
}

// Equal 比较两个公钥
func (p PubKey) Equal(other PubKey) bool {
	return p.KeyID == other.KeyID && bytes.Equal(p.PublicKey, other.PublicKey)
}

// NetworkId 节点的逻辑网络身份
//
// 由每种传输类型的地址、公钥和逻辑节点 ID 组成。创建后不可变，
// 注册表使用 Key() 作为索引。
type NetworkId struct {
	addresses AddressByTransportTypeMap
	pubKey    PubKey
	nodeID    string
}

// NewNetworkId 创建 NetworkId
func NewNetworkId(addresses AddressByTransportTypeMap, pubKey PubKey, nodeID string) NetworkId {
	return NetworkId{
		addresses: addresses.Clone(),
		pubKey:    PubKey{KeyID: pubKey.KeyID, PublicKey: bytes.Clone(pubKey.PublicKey)},
		nodeID:    nodeID,
	}
}

// AddressByTransportType 返回地址表副本
func (n NetworkId) AddressByTransportType() AddressByTransportTypeMap {
	return n.addresses.Clone()
}

// PubKey 返回公钥
func (n NetworkId) PubKey() PubKey {
	return n.pubKey
}

// NodeID 返回逻辑节点 ID
func (n NetworkId) NodeID() string {
	return n.nodeID
}

// Key 返回规范键，两个相等的 NetworkId 拥有相同的 Key
func (n NetworkId) Key() string {
	return fmt.Sprintf("%s/%s/%s", n.nodeID, hex.EncodeToString(n.pubKey.PublicKey), n.addresses.String())
}

// Equal 比较两个 NetworkId
func (n NetworkId) Equal(other NetworkId) bool {
	return n.Key() == other.Key()
}

// String 实现 fmt.Stringer
func (n NetworkId) String() string {
	return fmt.Sprintf("NetworkId[nodeId=%s, keyId=%s, addresses=%s]", n.nodeID, n.pubKey.KeyID, n.addresses)
}
