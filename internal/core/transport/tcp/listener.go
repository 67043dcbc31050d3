package tcp

import (
	"net"
	"sync"
)

// listener 接受的连接同样被传输记录
type listener struct {
	net.Listener
	transport *Transport
	once      sync.Once
}

func (l *listener) Accept() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.transport.setNoDelay(raw)
	return l.transport.track(raw), nil
}

func (l *listener) Close() error {
	l.once.Do(func() { l.transport.untrackListener(l) })
	return l.Listener.Close()
}

type conn struct {
	net.Conn
	transport *Transport
	once      sync.Once
}

func (c *conn) Close() error {
	c.once.Do(func() { c.transport.untrackConn(c) })
	return c.Conn.Close()
}
