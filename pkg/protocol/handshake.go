package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-netsync/pkg/types"
)

// ============================================================================
//                              Capability / NetworkLoad 编解码
// ============================================================================

func appendAddress(b []byte, a types.Address) []byte {
	b = appendStringField(b, 1, a.Host)
	return appendVarintField(b, 2, uint64(a.Port))
}

func unmarshalAddress(b []byte) (types.Address, error) {
	var host string
	var port uint64
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(num, typ, b)
			host = v
			return n, err
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			port = v
			return n, err
		}
		return 0, nil
	})
	if port > 65535 {
		return types.Address{}, fmt.Errorf("%w: port %d", ErrMalformed, port)
	}
	return types.NewAddress(host, int(port)), err
}

func appendCapability(b []byte, c types.Capability) []byte {
	b = appendMessageField(b, 1, appendAddress(nil, c.Address))
	for _, t := range c.SupportedTransportTypes {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t))
	}
	for _, f := range c.Features {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f))
	}
	return b
}

func unmarshalCapability(b []byte) (types.Capability, error) {
	var c types.Capability
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			c.Address, err = unmarshalAddress(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			c.SupportedTransportTypes = append(c.SupportedTransportTypes, types.TransportType(v))
			return n, err
		case 3:
			v, n, err := consumeVarint(num, typ, b)
			c.Features = append(c.Features, types.Feature(v))
			return n, err
		}
		return 0, nil
	})
	return c, err
}

func appendLoad(b []byte, l types.NetworkLoad) []byte {
	b = appendVarintField(b, 1, int32ToVarint(l.NumConnections))
	return appendDoubleField(b, 2, l.LoadFactor)
}

func unmarshalLoad(b []byte) (types.NetworkLoad, error) {
	var l types.NetworkLoad
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			l.NumConnections = varintToInt32(v)
			return n, err
		case 2:
			v, n, err := consumeDouble(num, typ, b)
			l.LoadFactor = v
			return n, err
		}
		return 0, nil
	})
	return l, err
}

// ============================================================================
//                              握手消息
// ============================================================================

// HandshakeRequest 发起方在建立连接后发送的第一条消息
type HandshakeRequest struct {
	Capability types.Capability
	Load       types.NetworkLoad
}

// Kind 实现 NetworkMessage
func (*HandshakeRequest) Kind() MessageKind { return KindHandshakeRequest }

// AppendWire 实现 NetworkMessage
func (m *HandshakeRequest) AppendWire(b []byte) []byte {
	b = appendMessageField(b, 1, appendCapability(nil, m.Capability))
	return appendMessageField(b, 2, appendLoad(nil, m.Load))
}

// HandshakeResponse 响应方对握手请求的回复
type HandshakeResponse struct {
	Capability types.Capability
	Load       types.NetworkLoad
}

// Kind 实现 NetworkMessage
func (*HandshakeResponse) Kind() MessageKind { return KindHandshakeResponse }

// AppendWire 实现 NetworkMessage
func (m *HandshakeResponse) AppendWire(b []byte) []byte {
	b = appendMessageField(b, 1, appendCapability(nil, m.Capability))
	return appendMessageField(b, 2, appendLoad(nil, m.Load))
}

func unmarshalHandshakeFields(b []byte) (types.Capability, types.NetworkLoad, error) {
	var (
		c types.Capability
		l types.NetworkLoad
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			c, err = unmarshalCapability(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			l, err = unmarshalLoad(v)
			return n, err
		}
		return 0, nil
	})
	return c, l, err
}

func unmarshalHandshakeRequest(b []byte) (NetworkMessage, error) {
	c, l, err := unmarshalHandshakeFields(b)
	if err != nil {
		return nil, err
	}
	return &HandshakeRequest{Capability: c, Load: l}, nil
}

func unmarshalHandshakeResponse(b []byte) (NetworkMessage, error) {
	c, l, err := unmarshalHandshakeFields(b)
	if err != nil {
		return nil, err
	}
	return &HandshakeResponse{Capability: c, Load: l}, nil
}

// ============================================================================
//                              关闭与保活
// ============================================================================

// CloseConnectionMessage 关闭前通知对端原因
type CloseConnectionMessage struct {
	Reason string
}

// Kind 实现 NetworkMessage
func (*CloseConnectionMessage) Kind() MessageKind { return KindCloseConnection }

// AppendWire 实现 NetworkMessage
func (m *CloseConnectionMessage) AppendWire(b []byte) []byte {
	return appendStringField(b, 1, m.Reason)
}

func unmarshalCloseConnection(b []byte) (NetworkMessage, error) {
	m := &CloseConnectionMessage{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(num, typ, b)
			m.Reason = v
			return n, err
		}
		return 0, nil
	})
	return m, err
}

// Ping 保活请求
type Ping struct {
	Nonce int32
}

// Kind 实现 NetworkMessage
func (*Ping) Kind() MessageKind { return KindPing }

// AppendWire 实现 NetworkMessage
func (m *Ping) AppendWire(b []byte) []byte {
	return appendVarintField(b, 1, int32ToVarint(m.Nonce))
}

// Pong 保活响应
type Pong struct {
	RequestNonce int32
}

// Kind 实现 NetworkMessage
func (*Pong) Kind() MessageKind { return KindPong }

// AppendWire 实现 NetworkMessage
func (m *Pong) AppendWire(b []byte) []byte {
	return appendVarintField(b, 1, int32ToVarint(m.RequestNonce))
}

func consumeNonce(b []byte) (int32, error) {
	var nonce int32
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeVarint(num, typ, b)
			nonce = varintToInt32(v)
			return n, err
		}
		return 0, nil
	})
	return nonce, err
}

func unmarshalPing(b []byte) (NetworkMessage, error) {
	nonce, err := consumeNonce(b)
	return &Ping{Nonce: nonce}, err
}

func unmarshalPong(b []byte) (NetworkMessage, error) {
	nonce, err := consumeNonce(b)
	return &Pong{RequestNonce: nonce}, err
}
