package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// maxRTTSamples 保留的往返时间样本数
const maxRTTSamples = 32

// Metrics 连接计数器，只由所属连接或通道修改，可并发读取
type Metrics struct {
	clock   clock.Clock
	created time.Time

	sentMessages     atomic.Int64
	receivedMessages atomic.Int64
	sentBytes        atomic.Int64
	receivedBytes    atomic.Int64
	lastSent         atomic.Int64
	lastReceived     atomic.Int64

	mu   sync.Mutex
	rtts []time.Duration
	next int
}

// NewMetrics 创建计数器
func NewMetrics(c clock.Clock) *Metrics {
	return &Metrics{clock: c, created: c.Now()}
}

// RecordSent 记录一条已发送的消息
func (m *Metrics) RecordSent(n int) {
	m.sentMessages.Add(1)
	m.sentBytes.Add(int64(n))
	m.lastSent.Store(m.clock.Now().UnixNano())
}

// RecordReceived 记录一条已接收的消息
func (m *Metrics) RecordReceived(n int) {
	m.receivedMessages.Add(1)
	m.receivedBytes.Add(int64(n))
	m.lastReceived.Store(m.clock.Now().UnixNano())
}

// AddRTT 记录一次请求往返时间
func (m *Metrics) AddRTT(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rtts) < maxRTTSamples {
		m.rtts = append(m.rtts, d)
		return
	}
	m.rtts[m.next] = d
	m.next = (m.next + 1) % maxRTTSamples
}

// RTTs 返回保留的往返时间样本
func (m *Metrics) RTTs() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.rtts...)
}

// AverageRTT 返回平均往返时间，没有样本时为 0
func (m *Metrics) AverageRTT() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rtts) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range m.rtts {
		sum += d
	}
	return sum / time.Duration(len(m.rtts))
}

// Created 连接创建时间
func (m *Metrics) Created() time.Time { return m.created }

// Age 连接存活时长
func (m *Metrics) Age() time.Duration { return m.clock.Since(m.created) }

// SentMessages 已发送消息数
func (m *Metrics) SentMessages() int64 { return m.sentMessages.Load() }

// ReceivedMessages 已接收消息数
func (m *Metrics) ReceivedMessages() int64 { return m.receivedMessages.Load() }

// SentBytes 已发送字节数
func (m *Metrics) SentBytes() int64 { return m.sentBytes.Load() }

// ReceivedBytes 已接收字节数
func (m *Metrics) ReceivedBytes() int64 { return m.receivedBytes.Load() }

// LastReceived 最近一次接收时间，尚未收到时为零值
func (m *Metrics) LastReceived() time.Time {
	if ns := m.lastReceived.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

// LastSent 最近一次发送时间，尚未发送时为零值
func (m *Metrics) LastSent() time.Time {
	if ns := m.lastSent.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}
