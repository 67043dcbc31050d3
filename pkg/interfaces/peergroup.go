package interfaces

// PeerGroupState peer group 生命周期状态
type PeerGroupState int32

const (
	PeerGroupNew PeerGroupState = iota
	PeerGroupStarting
	PeerGroupRunning
	PeerGroupStopping
	PeerGroupTerminated
)

// String 返回状态名称
func (s PeerGroupState) String() string {
	switch s {
	case PeerGroupNew:
		return "NEW"
	case PeerGroupStarting:
		return "STARTING"
	case PeerGroupRunning:
		return "RUNNING"
	case PeerGroupStopping:
		return "STOPPING"
	case PeerGroupTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// PeerGroupStateListener peer group 状态变化监听器
type PeerGroupStateListener interface {
	OnStateChanged(state PeerGroupState)
}
