package engine

import (
	"net"
	"sync"
	"time"
)

// fakeConn is a net.Conn stand-in over an in-process channel, letting
// engine tests drive loss/duplication/reordering deterministically
// instead of fighting real socket scheduling. Writes pass through an
// optional transform hook before reaching the peer's inbox.
type fakeConn struct {
	mu       sync.Mutex
	inbox    chan []byte
	deadline time.Time
	peer     *fakeConn

	// transform, if set, is applied to every outbound frame. It may
	// return zero or more copies (drop, pass through, duplicate).
	transform func(frame []byte) [][]byte
}

func newFakeConnPair(bufSize int) (*fakeConn, *fakeConn) {
	a := &fakeConn{inbox: make(chan []byte, bufSize)}
	b := &fakeConn{inbox: make(chan []byte, bufSize)}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *fakeConn) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)

	outs := [][]byte{cp}
	c.mu.Lock()
	transform := c.transform
	c.mu.Unlock()
	if transform != nil {
		outs = transform(cp)
	}
	for _, o := range outs {
		c.peer.inbox <- o
	}
	return len(p), nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "fakeConn: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	if deadline.IsZero() {
		data := <-c.inbox
		return copy(p, data), nil
	}
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case data := <-c.inbox:
			return copy(p, data), nil
		default:
			return 0, timeoutError{}
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case data := <-c.inbox:
		return copy(p, data), nil
	case <-timer.C:
		return 0, timeoutError{}
	}
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr{} }
func (c *fakeConn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return nil
}
func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }
