package node

import "fmt"

// State 节点状态
//
//	NEW → STARTING → RUNNING → STOPPING → TERMINATED
type State int32

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
