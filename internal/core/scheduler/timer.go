// Package scheduler 提供可替换的单次定时器
//
// 同一逻辑重试只允许存在一个定时器：再次 Schedule 会先停止旧的，
// 已被替换的定时器即使恰好触发也不会执行回调。
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer 单次、可替换的定时器
type Timer struct {
	clock clock.Clock
	name  string

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
	delay time.Duration
}

// NewTimer 创建定时器
func NewTimer(c clock.Clock, name string) *Timer {
	if c == nil {
		c = clock.New()
	}
	return &Timer{clock: c, name: name}
}

// Schedule 在 d 后执行 fn，替换尚未触发的旧定时器
func (t *Timer) Schedule(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.delay = d
	t.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

// Stop 停止定时器，返回是否有待触发的定时器
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer == nil {
		return false
	}
	t.timer.Stop()
	t.timer = nil
	return true
}

// Pending 报告是否有待触发的定时器
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Delay 返回最近一次 Schedule 的延迟
func (t *Timer) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Name 返回定时器名称
func (t *Timer) Name() string {
	return t.name
}
