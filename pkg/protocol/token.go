package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// TokenType 授权令牌类型
type TokenType uint32

const (
	// TokenNone 无授权（仅测试或本地网络）
	TokenNone TokenType = iota
	// TokenHashCash hashcash 工作量证明
	TokenHashCash
)

// AuthorizationToken 随每个 envelope 发送的授权令牌
//
// 本层把内容视为不透明数据，由 AuthorizationService 生成与校验。
type AuthorizationToken struct {
	Type    TokenType
	Payload []byte
}

// String 实现 fmt.Stringer
func (t AuthorizationToken) String() string {
	return fmt.Sprintf("AuthorizationToken[type=%d, len=%d]", t.Type, len(t.Payload))
}

func (t AuthorizationToken) appendWire(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(t.Type))
	return appendBytesField(b, 2, t.Payload)
}

func unmarshalToken(b []byte) (AuthorizationToken, error) {
	var t AuthorizationToken
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			t.Type = TokenType(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			t.Payload = v
			return n, err
		}
		return 0, nil
	})
	return t, err
}
