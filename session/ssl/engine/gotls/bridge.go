package gotls

import (
	"net"
	"secure-socket/session/ssl/engine"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// bridge is the net.Conn crypto/tls runs on. Reads that would block park
// the calling worker until the owner resumes it.
type bridge struct {
	push engine.PushFunc
	pull engine.PullFunc

	yield  chan struct{}
	resume chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newBridge(push engine.PushFunc, pull engine.PullFunc) *bridge {
	return &bridge{
		push:   push,
		pull:   pull,
		yield:  make(chan struct{}),
		resume: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

var _ net.Conn = (*bridge)(nil)

func (b *bridge) Read(p []byte) (int, error) {
	for {
		n, err := b.pull(p)
		if !errors.Is(err, engine.ErrWouldBlock) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}

		select {
		case b.yield <- struct{}{}:
		case <-b.closed:
			return 0, net.ErrClosed
		}

		select {
		case <-b.resume:
		case <-b.closed:
			return 0, net.ErrClosed
		}
	}
}

func (b *bridge) Write(p []byte) (int, error) {
	select {
	case <-b.closed:
		return 0, net.ErrClosed
	default:
	}
	return b.push(p)
}

func (b *bridge) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

type bridgeAddr struct{}

func (bridgeAddr) Network() string { return "engine" }
func (bridgeAddr) String() string  { return "engine" }

func (b *bridge) LocalAddr() net.Addr  { return bridgeAddr{} }
func (b *bridge) RemoteAddr() net.Addr { return bridgeAddr{} }

// Deadlines don't apply: nothing in the bridge waits on the network.
func (b *bridge) SetDeadline(time.Time) error      { return nil }
func (b *bridge) SetReadDeadline(time.Time) error  { return nil }
func (b *bridge) SetWriteDeadline(time.Time) error { return nil }
