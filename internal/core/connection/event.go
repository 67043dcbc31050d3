package connection

import "github.com/dep2p/go-netsync/pkg/protocol"

// Event 连接事件：MessageEvent 或 ClosedEvent
type Event interface {
	Connection() *Connection
	isEvent()
}

// MessageEvent 收到一条消息
type MessageEvent struct {
	Conn     *Connection
	Envelope *protocol.NetworkEnvelope
}

// Connection 实现 Event
func (e MessageEvent) Connection() *Connection { return e.Conn }

// Message 返回消息体
func (e MessageEvent) Message() protocol.NetworkMessage { return e.Envelope.Message }

func (MessageEvent) isEvent() {}

// ClosedEvent 连接已关闭，是该连接的最后一个事件
type ClosedEvent struct {
	Conn   *Connection
	Reason CloseReason
}

// Connection 实现 Event
func (e ClosedEvent) Connection() *Connection { return e.Conn }

func (ClosedEvent) isEvent() {}

// Listener 连接事件观察者
type Listener interface {
	OnEvent(evt Event)
}

// ListenerFunc 函数形式的 Listener
type ListenerFunc func(evt Event)

// OnEvent 实现 Listener
func (f ListenerFunc) OnEvent(evt Event) { f(evt) }

// Handler 连接的拥有者（节点），先于监听器收到事件
type Handler interface {
	Listener
}
