package types

import "time"

// ============================================================================
//                              Event - 事件接口
// ============================================================================

// Event 基础事件接口
type Event interface {
	// Type 返回事件类型
	Type() string

	// Timestamp 返回事件时间戳
	Timestamp() time.Time
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType string
	Time      time.Time
}

// Type 返回事件类型
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
	}
}

// ============================================================================
//                              连接事件
// ============================================================================

// EvtConnectionOpened 连接完成握手
type EvtConnectionOpened struct {
	BaseEvent
	ConnectionID string
	Peer         Address
	Direction    Direction
	NumConns     int
}

// EvtConnectionClosed 连接关闭
type EvtConnectionClosed struct {
	BaseEvent
	ConnectionID string
	Peer         Address
	Direction    Direction
	Reason       string
	Duration     time.Duration
}

// ============================================================================
//                              同步事件
// ============================================================================

// EvtPendingRequestsChanged 进行中的 inventory 请求数变化
type EvtPendingRequestsChanged struct {
	BaseEvent
	NumPending int
}

// EvtAllDataReceivedChanged 数据收敛状态变化
type EvtAllDataReceivedChanged struct {
	BaseEvent
	AllDataReceived bool
}

// EvtDataAdded 本地存储新增数据
type EvtDataAdded struct {
	BaseEvent
	Hash []byte
	Kind string
}

// EvtDataRemoved 本地存储删除数据
type EvtDataRemoved struct {
	BaseEvent
	Hash []byte
	Kind string
}
