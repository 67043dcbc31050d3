package interfaces

import (
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

// AuthorizationService 生成并校验每条消息附带的授权令牌
type AuthorizationService interface {
	// CreateToken 为发往 peer 的消息生成令牌
	CreateToken(msg protocol.NetworkMessage, peer types.Address) (protocol.AuthorizationToken, error)

	// IsAuthorized 校验发往 me 的消息所附令牌
	IsAuthorized(msg protocol.NetworkMessage, token protocol.AuthorizationToken, me types.Address) bool
}

// Signer 签名与验签
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Verify(pubKey, data, signature []byte) bool
}

// KeyBundleService 管理本节点的密钥材料
type KeyBundleService interface {
	// PubKey 返回默认公钥
	PubKey() types.PubKey

	// Signer 返回默认签名器
	Signer() Signer
}
