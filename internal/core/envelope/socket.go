package envelope

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-netsync/pkg/protocol"
)

// Socket 在阻塞式连接上收发 envelope
//
// Send 与 Receive 可以在不同 goroutine 中并发调用，但各自不可并发。
type Socket struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewSocket 包装 net.Conn
func NewSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn, r: bufio.NewReader(conn)}
}

// Send 写入一帧，返回写入的字节数
func (s *Socket) Send(env *protocol.NetworkEnvelope, timeout time.Duration) (int, error) {
	frame, err := Encode(env)
	if err != nil {
		return 0, err
	}
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return 0, err
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.Write(frame)
}

// Receive 阻塞读取下一帧，返回 envelope 与帧字节数
//
// 对端正常关闭时返回 io.EOF。
func (s *Socket) Receive() (*protocol.NetworkEnvelope, int, error) {
	size, err := varint.ReadUvarint(s.r)
	if err != nil {
		return nil, 0, err
	}
	if size == 0 {
		return nil, 0, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(s.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}
	env, err := protocol.UnmarshalEnvelope(body)
	if err != nil {
		return nil, 0, err
	}
	return env, varint.UvarintSize(size) + int(size), nil
}

// Close 关闭底层连接
func (s *Socket) Close() error {
	return s.conn.Close()
}

// RemoteAddr 返回对端地址
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Conn 返回底层连接
func (s *Socket) Conn() net.Conn {
	return s.conn
}
