package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Version 当前网络协议版本，不一致的 envelope 对连接是致命的
const Version int32 = 1

// ErrMissingPayload envelope 缺少消息体
var ErrMissingPayload = errors.New("envelope without payload")

// NetworkEnvelope 网络信封
//
// 每次发送时构造，每次接收时消费。
type NetworkEnvelope struct {
	Version            int32
	AuthorizationToken AuthorizationToken
	Message            NetworkMessage
}

// NewEnvelope 使用当前协议版本创建信封
func NewEnvelope(token AuthorizationToken, msg NetworkMessage) *NetworkEnvelope {
	return &NetworkEnvelope{
		Version:            Version,
		AuthorizationToken: token,
		Message:            msg,
	}
}

// Marshal 编码信封（不含长度前缀）
func (e *NetworkEnvelope) Marshal() ([]byte, error) {
	if e.Message == nil {
		return nil, ErrMissingPayload
	}
	b := make([]byte, 0, 64)
	b = appendVarintField(b, 1, int32ToVarint(e.Version))
	b = appendMessageField(b, 2, e.AuthorizationToken.appendWire(nil))
	b = appendVarintField(b, 3, uint64(e.Message.Kind()))
	b = appendMessageField(b, 4, e.Message.AppendWire(nil))
	return b, nil
}

// UnmarshalEnvelope 解码信封
//
// 版本号不在此处校验，由连接层决定如何处理不一致的版本。
func UnmarshalEnvelope(b []byte) (*NetworkEnvelope, error) {
	var (
		env     NetworkEnvelope
		kind    MessageKind
		payload []byte
		hasBody bool
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			env.Version = varintToInt32(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			token, err := unmarshalToken(v)
			env.AuthorizationToken = token
			return n, err
		case 3:
			v, n, err := consumeVarint(num, typ, b)
			kind = MessageKind(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(num, typ, b)
			payload, hasBody = v, true
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if !hasBody {
		return nil, ErrMissingPayload
	}
	msg, err := decodeMessage(kind, payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	env.Message = msg
	return &env, nil
}

// String 实现 fmt.Stringer
func (e *NetworkEnvelope) String() string {
	kind := "nil"
	if e.Message != nil {
		kind = e.Message.Kind().String()
	}
	return fmt.Sprintf("NetworkEnvelope[version=%d, message=%s]", e.Version, kind)
}
