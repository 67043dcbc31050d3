package protocol

import (
	"errors"
	"fmt"
)

// MessageKind 消息类型标识
type MessageKind uint32

const (
	KindHandshakeRequest MessageKind = iota + 1
	KindHandshakeResponse
	KindCloseConnection
	KindInventoryRequest
	KindInventoryResponse
	KindPing
	KindPong
)

// String 返回消息类型名称
func (k MessageKind) String() string {
	switch k {
	case KindHandshakeRequest:
		return "HandshakeRequest"
	case KindHandshakeResponse:
		return "HandshakeResponse"
	case KindCloseConnection:
		return "CloseConnectionMessage"
	case KindInventoryRequest:
		return "InventoryRequest"
	case KindInventoryResponse:
		return "InventoryResponse"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint32(k))
	}
}

// ErrUnknownMessageKind 未知消息类型
var ErrUnknownMessageKind = errors.New("unknown message kind")

// NetworkMessage 可在 NetworkEnvelope 中传输的消息
type NetworkMessage interface {
	// Kind 返回消息类型
	Kind() MessageKind

	// AppendWire 将消息体编码追加到 b
	AppendWire(b []byte) []byte
}

// decodeMessage 根据类型解码消息体
func decodeMessage(kind MessageKind, payload []byte) (NetworkMessage, error) {
	switch kind {
	case KindHandshakeRequest:
		return unmarshalHandshakeRequest(payload)
	case KindHandshakeResponse:
		return unmarshalHandshakeResponse(payload)
	case KindCloseConnection:
		return unmarshalCloseConnection(payload)
	case KindInventoryRequest:
		return unmarshalInventoryRequest(payload)
	case KindInventoryResponse:
		return unmarshalInventoryResponse(payload)
	case KindPing:
		return unmarshalPing(payload)
	case KindPong:
		return unmarshalPong(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageKind, uint32(kind))
	}
}
