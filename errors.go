package netsync

import "errors"

var (
	// ErrAlreadyStarted 重复启动
	ErrAlreadyStarted = errors.New("netsync: already started")

	// ErrNotStarted 未启动
	ErrNotStarted = errors.New("netsync: not started")

	// ErrStopped 已停止，不能再次启动
	ErrStopped = errors.New("netsync: stopped")
)
