// Package activesock turns a blocking [transport.Conn] into a callback driven
// socket. Every callback of one socket runs on that socket's dispatcher
// goroutine, one at a time and in the order the events happened.
package activesock

import (
	"context"
	"secure-socket/lib/ds/queue"
	iolib "secure-socket/lib/io"
	"secure-socket/transport"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrPending means the operation was queued and completes through a callback.
	ErrPending        = errors.New("operation is pending")
	ErrClosed         = errors.New("active socket is closed")
	ErrNotConnected   = errors.New("active socket is not connected")
	ErrReadStarted    = errors.New("read already started")
	ErrAcceptStarted  = errors.New("accept already started")
	ErrInvalidBuffers = errors.New("read buffers must not be empty")
)

// Result tells the caller of a callback whether the socket survived it.
// Destroyed from OnDataRead stops reading and from OnAcceptComplete stops
// accepting. For the other callbacks it is advisory.
type Result int

const (
	Continue Result = iota
	// Destroyed means the socket was closed inside the callback and must not be used again.
	Destroyed
)

func (r Result) String() string {
	if r == Destroyed {
		return "destroyed"
	}
	return "continue"
}

type Callbacks struct {
	OnConnectComplete func(s *Sock, err error) Result
	OnAcceptComplete  func(s *Sock, conn transport.Conn, remote transport.Addr) Result
	// OnDataRead reports data read into the buffer of the given slot. The buffer
	// is handed back to the reader when the callback returns.
	OnDataRead func(s *Sock, slot int, data []byte, err error) Result
	OnDataSent func(s *Sock, token any, sent int, err error) Result
}

// DefaultLinger bounds how long Close keeps writing queued sends.
const DefaultLinger = time.Second

type Config struct {
	// Concurrency is the number of read buffers kept in flight. Defaults to 1.
	Concurrency int
	// Linger bounds the flush of queued sends on Close. Defaults to [DefaultLinger].
	Linger time.Duration
	Clock  clock.Clock
	Logger *zap.Logger
}

func (c Config) slots() int {
	if c.Concurrency <= 0 {
		return 1
	}
	return c.Concurrency
}

func (c Config) linger() time.Duration {
	if c.Linger <= 0 {
		return DefaultLinger
	}
	return c.Linger
}

type sendRequest struct {
	data  []byte
	token any
}

type Sock struct {
	name   string
	cfg    Config
	cb     Callbacks
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     transport.Conn
	listener transport.ConnListener
	closed   bool

	readStarted   bool
	acceptStarted bool

	events *queue.NaiveQueue[func()]
	wake   chan struct{}

	sends         *queue.NaiveQueue[sendRequest]
	sendWake      chan struct{}
	writerStarted bool
	// lingerTimer force closes a connection whose writer is still flushing.
	lingerTimer *clock.Timer

	wg   sync.WaitGroup
	done chan struct{}

	userData any
}

func newSock(cfg Config, cb Callbacks) *Sock {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	name := "asock" + uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(context.Background())

	s := &Sock{
		name:     name,
		cfg:      cfg,
		cb:       cb,
		logger:   logger.With(zap.String("asock", name)),
		ctx:      ctx,
		cancel:   cancel,
		events:   queue.NewNaive[func()](8),
		wake:     make(chan struct{}, 1),
		sends:    queue.NewNaive[sendRequest](8),
		sendWake: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.dispatch()

	return s
}

// New wraps an established connection.
func New(conn transport.Conn, cfg Config, cb Callbacks) *Sock {
	s := newSock(cfg, cb)
	s.conn = conn
	return s
}

// Dial starts connecting to addr. The outcome is reported through OnConnectComplete.
func Dial(ctx context.Context, dialer transport.ConnDialer, addr transport.Addr, cfg Config, cb Callbacks) *Sock {
	s := newSock(cfg, cb)

	dialCtx, stop := context.WithCancel(ctx)
	context.AfterFunc(s.ctx, stop)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()

		conn, err := dialer.Dial(dialCtx, addr)

		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				conn.Close()
				return
			}
			s.conn = conn
			s.mu.Unlock()
		}

		s.post(func() {
			if s.cb.OnConnectComplete != nil {
				s.cb.OnConnectComplete(s, errors.Wrap(err, "connecting"))
			}
		})
	}()

	return s
}

// Listen wraps a listener. Call StartAccept to receive connections.
func Listen(l transport.ConnListener, cfg Config, cb Callbacks) *Sock {
	s := newSock(cfg, cb)
	s.listener = l
	return s
}

func (s *Sock) Name() string { return s.name }

func (s *Sock) UserData() any { return s.userData }

func (s *Sock) SetUserData(v any) { s.userData = v }

// Done is closed once every goroutine of a closed socket has exited.
func (s *Sock) Done() <-chan struct{} { return s.done }

func (s *Sock) LocalAddr() transport.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.conn != nil:
		return s.conn.LocalAddr()
	case s.listener != nil:
		return s.listener.Addr()
	}
	return nil
}

func (s *Sock) RemoteAddr() transport.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn.RemoteAddr()
	}
	return nil
}

// Post runs fn on the dispatcher. It reports false when the socket is closed.
func (s *Sock) Post(fn func()) bool {
	return s.post(fn)
}

func (s *Sock) post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.events.Enqueue(fn)
	signal(s.wake)
	return true
}

func (s *Sock) dispatch() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.events.Len() == 0 && !s.closed {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.ctx.Done():
			}
			s.mu.Lock()
		}

		if s.closed {
			s.mu.Unlock()
			return
		}

		fn, _ := s.events.Dequeue()
		s.mu.Unlock()

		fn()
	}
}

// StartRead allocates Concurrency buffers of size bytes and starts reading into them.
func (s *Sock) StartRead(size int) error {
	bufs := make([][]byte, s.cfg.slots())
	for i := range bufs {
		bufs[i] = make([]byte, size)
	}
	return s.StartReadWithBuffers(bufs)
}

// StartReadWithBuffers starts reading into bufs, one slot per buffer.
// A slot is refilled only after the OnDataRead call for it returned.
func (s *Sock) StartReadWithBuffers(bufs [][]byte) error {
	if len(bufs) == 0 {
		return ErrInvalidBuffers
	}
	for _, b := range bufs {
		if len(b) == 0 {
			return ErrInvalidBuffers
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.conn == nil:
		return ErrNotConnected
	case s.readStarted:
		return ErrReadStarted
	}
	s.readStarted = true

	slots := make(chan int, len(bufs))
	for i := range bufs {
		slots <- i
	}

	s.wg.Add(1)
	go s.readLoop(s.conn, bufs, slots)

	return nil
}

func (s *Sock) readLoop(conn transport.Conn, bufs [][]byte, slots chan int) {
	defer s.wg.Done()

	ctx, stop := context.WithCancel(s.ctx)
	defer stop()

	for {
		var slot int
		select {
		case slot = <-slots:
		case <-ctx.Done():
			return
		}

		n, err := conn.Read(bufs[slot])
		if n == 0 && err == nil {
			slots <- slot
			continue
		}
		if ctx.Err() != nil {
			return
		}

		data := bufs[slot][:n]
		posted := s.post(func() {
			if s.cb.OnDataRead != nil && s.cb.OnDataRead(s, slot, data, err) == Destroyed {
				// The slot is not handed back, nothing reads into it anymore.
				stop()
				return
			}
			slots <- slot
		})

		if err != nil || !posted {
			if err != nil {
				s.logger.Debug("read loop stopped", zap.Error(err))
			}
			return
		}
	}
}

// StartAccept accepts connections until the listener fails or the socket closes.
func (s *Sock) StartAccept() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.listener == nil:
		return errors.New("not a listening socket")
	case s.acceptStarted:
		return ErrAcceptStarted
	}
	s.acceptStarted = true

	s.wg.Add(1)
	go s.acceptLoop(s.listener)

	return nil
}

func (s *Sock) acceptLoop(l transport.ConnListener) {
	defer s.wg.Done()

	ctx, stop := context.WithCancel(s.ctx)
	defer stop()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}

		posted := s.post(func() {
			if s.cb.OnAcceptComplete == nil {
				conn.Close()
				return
			}
			if s.cb.OnAcceptComplete(s, conn, conn.RemoteAddr()) == Destroyed {
				stop()
			}
		})
		if !posted {
			conn.Close()
			return
		}
	}
}

// Send queues data for writing and returns [ErrPending]. data must stay
// untouched until OnDataSent reports the token. Sends complete in order.
func (s *Sock) Send(data []byte, token any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.conn == nil:
		return ErrNotConnected
	}

	s.sends.Enqueue(sendRequest{data: data, token: token})

	if !s.writerStarted {
		s.writerStarted = true
		s.wg.Add(1)
		go s.writeLoop(s.conn)
	}
	signal(s.sendWake)

	return ErrPending
}

func (s *Sock) writeLoop(conn transport.Conn) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.sends.Len() == 0 && !s.closed {
			s.mu.Unlock()
			select {
			case <-s.sendWake:
			case <-s.ctx.Done():
			}
			s.mu.Lock()
		}

		if s.closed {
			pending := s.sends.Clear()
			s.mu.Unlock()
			s.flush(conn, pending)
			return
		}

		req, _ := s.sends.Dequeue()
		s.mu.Unlock()

		n, err := iolib.WriteFull(conn, req.data)
		if err != nil {
			err = errors.Wrap(err, "writing")
		}

		s.post(func() {
			if s.cb.OnDataSent != nil {
				s.cb.OnDataSent(s, req.token, int(n), err)
			}
		})
	}
}

// flush writes the sends queued before Close without reporting them, then
// closes conn. The linger timer cuts it short.
func (s *Sock) flush(conn transport.Conn, pending []sendRequest) {
	for i, req := range pending {
		if _, err := iolib.WriteFull(conn, req.data); err != nil {
			s.logger.Debug("dropping sends on close", zap.Int("dropped", len(pending)-i), zap.Error(err))
			break
		}
	}

	s.mu.Lock()
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
		s.lingerTimer = nil
	}
	s.mu.Unlock()

	if err := conn.Close(); err != nil {
		s.logger.Debug("closing after flush", zap.Error(err))
	}
}

// Close releases the socket. It doesn't wait for the goroutines to finish,
// so it can be called from callbacks; see [Sock.Done]. Events not yet
// dispatched are dropped. Data already passed to Send is still written,
// for at most Config.Linger, before the connection closes.
func (s *Sock) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	s.events.Clear()

	conn, l := s.conn, s.listener
	// A running writer owns the connection from here on.
	lingering := conn != nil && s.writerStarted
	if lingering {
		s.lingerTimer = s.cfg.Clock.AfterFunc(s.cfg.linger(), func() { conn.Close() })
	} else {
		s.sends.Clear()
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	s.mu.Unlock()

	var err error
	if conn != nil && !lingering {
		err = conn.Close()
	}
	if l != nil {
		if lerr := l.Close(); lerr != nil && !errors.Is(lerr, transport.ErrConnListenerClosed) {
			err = lerr
		}
	}

	s.logger.Debug("closed")
	return errors.Wrap(err, "closing")
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
