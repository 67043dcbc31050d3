package executor

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("executor pool closed")
	// ErrDispatcherClosed 分发器已关闭
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
