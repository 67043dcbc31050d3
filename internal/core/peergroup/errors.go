package peergroup

import "errors"

var (
	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("peer group already started")
	// ErrInvalidDependencies 缺少必需依赖
	ErrInvalidDependencies = errors.New("peergroup: missing required dependencies")
)
