//go:build linux || darwin

package outbound

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	evReadable int16 = unix.POLLIN
	evWritable int16 = unix.POLLOUT
	evError    int16 = unix.POLLERR
	evHangup   int16 = unix.POLLHUP
	evInvalid  int16 = unix.POLLNVAL
)

// readyEvent 一个就绪的描述符
type readyEvent struct {
	fd     int
	events int16
}

// poller 基于 poll(2) 的就绪等待，带自管道唤醒
//
// set/remove/wake 可在任意 goroutine 调用；wait 只由 reactor 调用。
type poller struct {
	mu       sync.Mutex
	interest map[int]int16
	closed   bool

	wakeR, wakeW int
}

func newPoller() (*poller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &poller{
		interest: make(map[int]int16),
		wakeR:    fds[0],
		wakeW:    fds[1],
	}, nil
}

// set 设置 fd 的关注事件
func (p *poller) set(fd int, events int16) {
	p.mu.Lock()
	if !p.closed {
		p.interest[fd] = events
	}
	p.mu.Unlock()
}

func (p *poller) remove(fd int) {
	p.mu.Lock()
	delete(p.interest, fd)
	p.mu.Unlock()
}

func (p *poller) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.interest)
}

// wake 唤醒阻塞在 wait 中的 reactor
func (p *poller) wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrReactorClosed
	}
	_, err := unix.Write(p.wakeW, []byte{1})
	// 管道已满说明已有未处理的唤醒
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

// wait 等待就绪事件，timeout < 0 表示无限等待
//
// 被信号打断时返回 (nil, nil)。
func (p *poller) wait(timeout time.Duration) ([]readyEvent, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrReactorClosed
	}
	fds := make([]unix.PollFd, 0, len(p.interest)+1)
	fds = append(fds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for fd, events := range p.interest {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.mu.Unlock()

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	if fds[0].Revents != 0 {
		p.drainWake()
	}
	out := make([]readyEvent, 0, n)
	for _, pfd := range fds[1:] {
		if pfd.Revents != 0 {
			out = append(out, readyEvent{fd: int(pfd.Fd), events: pfd.Revents})
		}
	}
	return out, nil
}

func (p *poller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.interest = nil
	err := unix.Close(p.wakeR)
	if werr := unix.Close(p.wakeW); err == nil {
		err = werr
	}
	return err
}
