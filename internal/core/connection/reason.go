package connection

import "fmt"

// ReasonKind 关闭原因类型
type ReasonKind int

const (
	// ReasonPeerClosed 对端关闭
	ReasonPeerClosed ReasonKind = iota + 1
	// ReasonException 传输异常
	ReasonException
	// ReasonShutdown 本地关闭
	ReasonShutdown
	// ReasonProtocolViolation 协议违规（版本不一致、无法解析、授权失败）
	ReasonProtocolViolation
	// ReasonDuplicateConnection 与同一对端已存在连接
	ReasonDuplicateConnection
	// ReasonBanned 对端在黑名单中
	ReasonBanned
	// ReasonTooManyConnections 超过最大连接数
	ReasonTooManyConnections
)

// String 返回原因名称
func (k ReasonKind) String() string {
	switch k {
	case ReasonPeerClosed:
		return "PEER_CLOSED"
	case ReasonException:
		return "EXCEPTION"
	case ReasonShutdown:
		return "SHUTDOWN"
	case ReasonProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ReasonDuplicateConnection:
		return "DUPLICATE_CONNECTION"
	case ReasonBanned:
		return "BANNED"
	case ReasonTooManyConnections:
		return "TOO_MANY_CONNECTIONS"
	default:
		return fmt.Sprintf("REASON(%d)", int(k))
	}
}

// ParseReasonKind 从名称解析，用于 CloseConnectionMessage
func ParseReasonKind(s string) (ReasonKind, bool) {
	for k := ReasonPeerClosed; k <= ReasonTooManyConnections; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// CloseReason 连接关闭时记录的原因，每次关闭创建新值
type CloseReason struct {
	Kind  ReasonKind
	Cause error
}

// PeerClosed 对端关闭
func PeerClosed() CloseReason { return CloseReason{Kind: ReasonPeerClosed} }

// Exception 传输异常
func Exception(cause error) CloseReason { return CloseReason{Kind: ReasonException, Cause: cause} }

// Shutdown 本地关闭
func Shutdown() CloseReason { return CloseReason{Kind: ReasonShutdown} }

// ProtocolViolation 协议违规
func ProtocolViolation(cause error) CloseReason {
	return CloseReason{Kind: ReasonProtocolViolation, Cause: cause}
}

// WithKind 其它原因
func WithKind(kind ReasonKind) CloseReason { return CloseReason{Kind: kind} }

// String 实现 fmt.Stringer
func (r CloseReason) String() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s(%v)", r.Kind, r.Cause)
	}
	return r.Kind.String()
}
