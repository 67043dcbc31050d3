package envelope

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-netsync/pkg/protocol"
)

// MaxFrameSize 单帧最大字节数
const MaxFrameSize = 20 * 1024 * 1024

// Encode 编码带长度前缀的帧
func Encode(env *protocol.NetworkEnvelope) ([]byte, error) {
	body, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	frame := make([]byte, varint.UvarintSize(uint64(len(body)))+len(body))
	n := varint.PutUvarint(frame, uint64(len(body)))
	copy(frame[n:], body)
	return frame, nil
}

// Decoder 增量帧解析器，非并发安全
type Decoder struct {
	buf []byte
}

// Feed 追加收到的字节
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered 返回尚未解析的字节数
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next 解析下一帧；数据不足时返回 (nil, nil)
func (d *Decoder) Next() (*protocol.NetworkEnvelope, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	size, n, err := varint.FromUvarint(d.buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, nil
		}
		return nil, fmt.Errorf("frame length: %w", err)
	}
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	end := n + int(size)
	if len(d.buf) < end {
		return nil, nil
	}
	env, err := protocol.UnmarshalEnvelope(d.buf[n:end])
	d.buf = d.buf[end:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return env, err
}
