package envelope

import "errors"

var (
	// ErrFrameTooLarge 帧长度超过上限
	ErrFrameTooLarge = errors.New("envelope frame too large")
	// ErrEmptyFrame 长度为 0 的帧
	ErrEmptyFrame = errors.New("empty envelope frame")
)
