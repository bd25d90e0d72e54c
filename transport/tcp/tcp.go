// Package tcp adapts the operating system's TCP sockets to [transport.Conn].
package tcp

import (
	"context"
	"io"
	"net"
	"os"
	"secure-socket/transport"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

type Options struct {
	// ReuseAddr sets SO_REUSEADDR on the listening socket.
	ReuseAddr bool
	KeepAlive time.Duration
}

func Listen(ctx context.Context, address string, opts Options) (*listener, error) {
	lc := net.ListenConfig{KeepAlive: opts.KeepAlive}
	if opts.ReuseAddr {
		lc.Control = reuseAddrControl
	}

	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(mapError(err), "listening on %s", address)
	}

	return &listener{l: l.(*net.TCPListener)}, nil
}

type listener struct {
	l *net.TCPListener
}

var _ transport.ConnListener = (*listener)(nil)

func (l *listener) Addr() transport.Addr { return l.l.Addr() }
func (l *listener) Close() error         { return mapError(l.l.Close()) }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	// Clear a deadline left behind by a cancelled accept.
	l.l.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		// Interrupt the pending accept.
		l.l.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := l.l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, mapError(err)
	}

	return newConn(c), nil
}

type Dialer struct {
	LocalAddr *net.TCPAddr
	Timeout   time.Duration
	KeepAlive time.Duration
}

var _ transport.ConnDialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	if d.LocalAddr != nil {
		nd.LocalAddr = d.LocalAddr
	}

	c, err := nd.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(mapError(err), "dialing %s", addr)
	}

	return newConn(c), nil
}

// ResolveAddr resolves a host:port string into an address usable by [Dialer].
func ResolveAddr(address string) (transport.Addr, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", address)
	}
	return addr, nil
}

type conn struct {
	c net.Conn

	mu       sync.Mutex
	peerGone bool
}

var _ transport.Conn = (*conn)(nil)

func newConn(c net.Conn) *conn { return &conn{c: c} }

func (conn *conn) LocalAddr() transport.Addr    { return conn.c.LocalAddr() }
func (conn *conn) RemoteAddr() transport.Addr   { return conn.c.RemoteAddr() }
func (conn *conn) SetReadDeadLine(t time.Time)  { conn.c.SetReadDeadline(t) }
func (conn *conn) SetWriteDeadLine(t time.Time) { conn.c.SetWriteDeadline(t) }

func (conn *conn) Read(p []byte) (int, error) {
	n, err := conn.c.Read(p)
	if err == io.EOF {
		conn.mu.Lock()
		conn.peerGone = true
		conn.mu.Unlock()
	}
	return n, mapError(err)
}

// Write fails once the peer is known to be gone, instead of letting the
// kernel buffer swallow the data.
func (conn *conn) Write(p []byte) (int, error) {
	conn.mu.Lock()
	gone := conn.peerGone
	conn.mu.Unlock()

	if gone {
		return 0, transport.ErrConnClosed
	}

	n, err := conn.c.Write(p)
	return n, mapError(err)
}

func (conn *conn) Close() error {
	err := conn.c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return errors.Wrap(transport.ErrConnClosed, err.Error())
	case errors.Is(err, os.ErrDeadlineExceeded):
		return transport.ErrDeadLineExceeded
	case errors.Is(err, syscall.ECONNREFUSED):
		return errors.Wrap(transport.ErrConnRefused, err.Error())
	case errors.Is(err, syscall.EADDRINUSE):
		return errors.Wrap(transport.ErrAddrAlreadyInUse, err.Error())
	case errors.Is(err, syscall.ENETUNREACH):
		return errors.Wrap(transport.ErrNetUnreachable, err.Error())
	}
	return err
}
