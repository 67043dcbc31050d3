package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/types"
)

// keyIDSize KeyID 使用的摘要字节数
const keyIDSize = 20

// KeyBundle ed25519 密钥包
type KeyBundle struct {
	priv   ed25519.PrivateKey
	pubKey types.PubKey
}

var (
	_ pkgif.KeyBundleService = (*KeyBundle)(nil)
	_ pkgif.Signer           = (*KeyBundle)(nil)
)

// Generate 生成新的密钥包
func Generate() (*KeyBundle, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey 由私钥构造密钥包
func FromPrivateKey(priv ed25519.PrivateKey) (*KeyBundle, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyBundle{
		priv:   priv,
		pubKey: types.PubKey{KeyID: KeyID(pub), PublicKey: []byte(pub)},
	}, nil
}

// KeyID 返回公钥的短标识：blake3 摘要前 keyIDSize 字节的 base58 编码
func KeyID(pub []byte) string {
	sum := blake3.Sum256(pub)
	return base58.Encode(sum[:keyIDSize])
}

// PubKey 实现 KeyBundleService
func (k *KeyBundle) PubKey() types.PubKey {
	return k.pubKey
}

// Signer 实现 KeyBundleService
func (k *KeyBundle) Signer() pkgif.Signer {
	return k
}

// Sign 实现 Signer
func (k *KeyBundle) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

// Verify 实现 Signer
func (k *KeyBundle) Verify(pubKey, data, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, signature)
}
