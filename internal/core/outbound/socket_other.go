//go:build !(linux || darwin)

package outbound

import (
	"context"
	"time"

	"github.com/dep2p/go-netsync/pkg/types"
)

const (
	evReadable int16 = 0x1
	evWritable int16 = 0x4
	evError    int16 = 0x8
	evHangup   int16 = 0x10
	evInvalid  int16 = 0x20
)

type readyEvent struct {
	fd     int
	events int16
}

type poller struct{}

func newPoller() (*poller, error) { return nil, ErrUnsupportedPlatform }

func (p *poller) set(int, int16)                           {}
func (p *poller) remove(int)                               {}
func (p *poller) len() int                                 { return 0 }
func (p *poller) wake() error                              { return ErrUnsupportedPlatform }
func (p *poller) wait(time.Duration) ([]readyEvent, error) { return nil, ErrUnsupportedPlatform }
func (p *poller) close() error                             { return nil }

func dialNonblocking(context.Context, types.Address) (int, error) { return -1, ErrUnsupportedPlatform }
func socketError(int) error                                       { return ErrUnsupportedPlatform }
func readFd(int, []byte) (int, error)                             { return 0, ErrUnsupportedPlatform }
func writeFd(int, []byte) (int, error)                            { return 0, ErrUnsupportedPlatform }
func closeFd(int) error                                           { return nil }
func isWouldBlock(error) bool                                     { return false }
