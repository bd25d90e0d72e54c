// Package pipe provides in-memory stream connections.
// They are used wherever a real socket would only add noise, mostly tests.
package pipe

import (
	"bytes"
	"secure-socket/transport"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type Addr struct {
	Name string
}

func (a Addr) Network() string { return string(transport.Pipe) }
func (a Addr) String() string  { return a.Name }

var _ transport.Addr = Addr{}

// See:
// - https://github.com/golang/go/issues/24205
// - https://github.com/golang/go/issues/34502
type pipe struct {
	addr Addr

	buf *bytes.Buffer // protected by in.

	in, out  sync.Cond
	serialMu sync.Mutex // For serialized write operations.

	closedMu sync.Mutex
	_closed  bool
	onClose  func()

	rdeadLine, wdeadLine *deadline

	// the opposite pipe.
	counterpart *pipe
}

var _ transport.BufferedConn = (*pipe)(nil)

// NewPair creates a pair of connected pipes. Writes are asynchronous as long as
// the peer's buffer of bufSize bytes has room, so bufSize MUST be more than 0.
func NewPair(name1, name2 string, clock clock.Clock, bufSize uint) (c1, c2 *pipe) {
	if bufSize == 0 {
		panic("buffer size cannot be 0")
	}

	c1 = newPipe(Addr{Name: name1}, clock, bufSize)
	c2 = newPipe(Addr{Name: name2}, clock, bufSize)

	c1.counterpart, c2.counterpart = c2, c1
	return
}

func newPipe(addr Addr, clock clock.Clock, bufSize uint) *pipe {
	p := &pipe{
		buf:       bytes.NewBuffer(make([]byte, 0, bufSize)),
		rdeadLine: &deadline{clock: clock},
		wdeadLine: &deadline{clock: clock},
		addr:      addr,
	}
	p.in.L, p.out.L = &sync.Mutex{}, &sync.Mutex{}
	return p
}

func (p *pipe) ReadBufSize() uint          { return uint(p.buf.Cap()) }
func (p *pipe) WriteBufSize() uint         { return uint(p.counterpart.buf.Cap()) }
func (p *pipe) LocalAddr() transport.Addr  { return p.addr }
func (p *pipe) RemoteAddr() transport.Addr { return p.counterpart.addr }

func (p *pipe) Close() error {
	p.closedMu.Lock()
	if p._closed {
		p.closedMu.Unlock()
		return nil
	}
	p._closed = true
	onClose := p.onClose
	p.closedMu.Unlock()

	if onClose != nil {
		onClose()
	}

	// Waiters check the flag under the cond lock, so broadcast under it too.
	for _, c := range []*sync.Cond{&p.in, &p.out, &p.counterpart.in, &p.counterpart.out} {
		wakeUp(c)
	}
	return nil
}

func (p *pipe) Read(b []byte) (n int, err error) {
	defer func() {
		if err != nil {
			return
		}
		// If buffer was full and counterpart was waiting,
		// we must notify them that it is now available to write.
		wakeUp(&p.counterpart.out)
	}()

	p.in.L.Lock()
	defer p.in.L.Unlock()

	for {
		// We must check for deadline first.
		if p.rdeadLine.exceeded() {
			return 0, transport.ErrDeadLineExceeded
		}

		// Even if connection is closed, we must be able to read from buffer.
		if p.buf.Len() > 0 {
			return p.buf.Read(b)
		}

		if p.closed() || p.counterpart.closed() {
			return 0, transport.ErrConnClosed
		}

		p.in.Wait()
	}
}

func (p *pipe) Write(b []byte) (n int, err error) {
	// Serialize write operations to prevent interleaving write.
	p.serialMu.Lock()
	defer p.serialMu.Unlock()

	p.out.L.Lock()
	defer p.out.L.Unlock()

	// Ensure all the bytes are sent.
	nn := 0
	for once := true; once || len(b) > 0; once = false {
		if p.wdeadLine.exceeded() {
			return nn, transport.ErrDeadLineExceeded
		}

		if p.closed() || p.counterpart.closed() {
			return nn, transport.ErrConnClosed
		}

		p.counterpart.in.L.Lock()

		// We don't want counterpart's buffer to grow.
		remain := p.counterpart.buf.Cap() - p.counterpart.buf.Len()

		if canWrite := min(len(b), remain); canWrite > 0 {
			p.counterpart.buf.Write(b[:canWrite])
			b = b[canWrite:]
			nn += canWrite

			p.counterpart.in.Broadcast()
			p.counterpart.in.L.Unlock()
			continue
		}

		p.counterpart.in.L.Unlock()
		p.out.Wait()
	}

	return nn, nil
}

func (p *pipe) closed() bool {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	return p._closed
}

func (p *pipe) SetReadDeadLine(t time.Time)  { p.rdeadLine.set(t, func() { wakeUp(&p.in) }) }
func (p *pipe) SetWriteDeadLine(t time.Time) { p.wdeadLine.set(t, func() { wakeUp(&p.out) }) }

func wakeUp(c *sync.Cond) {
	c.L.Lock()
	c.Broadcast()
	c.L.Unlock()
}

type deadline struct {
	clock clock.Clock
	m     sync.Mutex

	timer *clock.Timer
	t     time.Time
}

// set must not hold m while onExceed runs: readers check the deadline while
// holding their cond lock, which onExceed takes.
func (d *deadline) set(t time.Time, onExceed func()) {
	d.m.Lock()
	defer d.m.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.t = t

	if !t.IsZero() {
		d.timer = d.clock.AfterFunc(d.clock.Until(t), onExceed)
	}
}

func (d *deadline) exceeded() bool {
	d.m.Lock()
	defer d.m.Unlock()

	if d.t.IsZero() {
		return false
	}

	return d.clock.Until(d.t) <= 0
}
