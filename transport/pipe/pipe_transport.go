package pipe

import (
	"context"
	"fmt"
	"math/rand/v2"
	"secure-socket/transport"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const DefaultBufSize = 1 << 14

type pipeRequest struct {
	conn     *pipe
	accepted chan struct{}
}

// Transport connects pipes by listener name.
type Transport struct {
	listeners map[Addr]*listener
	clock     clock.Clock
	bufSize   uint
	ports     *transport.PortTable

	mu sync.Mutex
}

func NewTransport(clock clock.Clock, bufSize uint) *Transport {
	if bufSize == 0 {
		bufSize = DefaultBufSize
	}

	ports, err := transport.NewPortTable(transport.EphemeralPortOptions{
		Range:  [2]uint16{49152, 65535},
		Rand:   func() uint16 { return uint16(rand.Uint32()) },
		MaxTry: 64,
	})
	if err != nil {
		// The options above are constant.
		panic(err)
	}

	return &Transport{
		listeners: make(map[Addr]*listener),
		clock:     clock,
		bufSize:   bufSize,
		ports:     ports,
	}
}

var _ transport.ConnDialer = (*Transport)(nil)

func (pt *Transport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	to, ok := addr.(Addr)
	if !ok {
		return nil, errors.Wrapf(transport.ErrNetUnreachable, "not a pipe address: %s", addr)
	}

	pt.mu.Lock()
	l, ok := pt.listeners[to]
	pt.mu.Unlock()

	if !ok {
		return nil, transport.ErrConnRefused
	}

	ok, port, release := pt.ports.Occupy(0)
	if !ok {
		return nil, errors.New("ephemeral ports exhausted")
	}

	p1, p2 := NewPair(fmt.Sprintf("%s:%d", to.Name, port), to.Name, pt.clock, pt.bufSize)
	p1.onClose = release

	req := pipeRequest{
		conn:     p2,
		accepted: make(chan struct{}, 1),
	}

	fail := func(err error) (transport.Conn, error) {
		release()
		return nil, err
	}

	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-l.closed:
		return fail(transport.ErrConnRefused)
	case l.requests <- req:
	}

	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case _, accepted := <-req.accepted:
		if !accepted {
			return fail(transport.ErrConnRefused)
		}
	}

	return p1, nil
}

func (pt *Transport) Listen(addr Addr) (*listener, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.listeners[addr]; ok {
		return nil, transport.ErrAddrAlreadyInUse
	}

	l := &listener{
		addr:      addr,
		transport: pt,
		requests:  make(chan pipeRequest),
		closed:    make(chan struct{}),
	}
	pt.listeners[addr] = l

	return l, nil
}

type listener struct {
	addr Addr

	transport *Transport

	requests chan pipeRequest
	closed   chan struct{}

	mu sync.Mutex
}

var _ transport.ConnListener = (*listener)(nil)

func (l *listener) Addr() transport.Addr { return l.addr }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, transport.ErrConnListenerClosed
	case request := <-l.requests:
		select {
		case <-ctx.Done():
			close(request.accepted)
			return nil, ctx.Err()
		case request.accepted <- struct{}{}:
		}

		return request.conn, nil
	}
}

func (l *listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.closed:
		return transport.ErrConnListenerClosed
	default:
	}

	close(l.closed)

	l.transport.mu.Lock()
	delete(l.transport.listeners, l.addr)
	l.transport.mu.Unlock()

	return nil
}
