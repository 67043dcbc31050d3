package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/transport/tcp")

// Options TCP 传输参数
type Options struct {
	// Host 监听主机，对外地址也使用该主机
	Host        string
	DialTimeout time.Duration
	KeepAlive   time.Duration
	NoDelay     bool
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		Host:        "127.0.0.1",
		DialTimeout: 30 * time.Second,
		KeepAlive:   15 * time.Second,
		NoDelay:     true,
	}
}

// Transport TCP 传输
type Transport struct {
	opts Options

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}

	closed atomic.Bool
}

var _ pkgif.TransportService = (*Transport)(nil)

// NewTransport 创建 TCP 传输
func NewTransport(opts Options) *Transport {
	return &Transport{
		opts:      opts,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Type 实现 TransportService
func (t *Transport) Type() types.TransportType {
	return types.TransportClear
}

// Dial 实现 TransportDialer
func (t *Transport) Dial(ctx context.Context, addr types.Address) (net.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if !addr.IsClear() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAddress, addr)
	}

	dialer := &net.Dialer{
		Timeout:   t.opts.DialTimeout,
		KeepAlive: t.opts.KeepAlive,
	}
	raw, err := dialer.DialContext(ctx, "tcp", addr.FullAddress())
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	t.setNoDelay(raw)
	return t.track(raw), nil
}

// Listen 实现 TransportService
func (t *Transport) Listen(ctx context.Context, port int) (net.Listener, types.Address, error) {
	if t.closed.Load() {
		return nil, types.Address{}, ErrTransportClosed
	}
	lc := net.ListenConfig{KeepAlive: t.opts.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(t.opts.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, types.Address{}, fmt.Errorf("监听失败: %w", err)
	}
	// port 为 0 时使用实际分配的端口
	actual := ln.Addr().(*net.TCPAddr).Port
	wrapped := &listener{Listener: ln, transport: t}

	t.mu.Lock()
	t.listeners[wrapped] = struct{}{}
	t.mu.Unlock()

	addr := types.NewAddress(t.opts.Host, actual)
	logger.Debug("开始监听", "address", addr.String())
	return wrapped, addr, nil
}

// Close 关闭所有监听器与连接
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	listeners := t.listeners
	conns := t.conns
	t.listeners = make(map[net.Listener]struct{})
	t.conns = make(map[net.Conn]struct{})
	t.mu.Unlock()

	var lastErr error
	for l := range listeners {
		if err := l.Close(); err != nil {
			lastErr = err
		}
	}
	for c := range conns {
		_ = c.Close()
	}
	logger.Debug("传输已关闭", "listeners", len(listeners), "conns", len(conns))
	return lastErr
}

// ConnCount 返回打开的连接数
func (t *Transport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// ListenerCount 返回打开的监听器数
func (t *Transport) ListenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

func (t *Transport) setNoDelay(raw net.Conn) {
	if tcpConn, ok := raw.(*net.TCPConn); ok && t.opts.NoDelay {
		_ = tcpConn.SetNoDelay(true)
	}
}

func (t *Transport) track(raw net.Conn) net.Conn {
	c := &conn{Conn: raw, transport: t}
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
	return c
}

func (t *Transport) untrackConn(c net.Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *Transport) untrackListener(l net.Listener) {
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}
