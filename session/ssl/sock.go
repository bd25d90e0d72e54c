// Package ssl runs TLS over a callback driven socket. The engine session
// never touches the network: ciphertext it produces is queued in a ring
// buffer and sent through the active socket, and ciphertext read from the
// active socket is fed back to the engine.
package ssl

import (
	"bytes"
	"context"
	"secure-socket/lib/ds/queue"
	"secure-socket/lib/ds/stack"
	"secure-socket/session/ssl/certinfo"
	"secure-socket/session/ssl/cipher"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/errmap"
	"secure-socket/session/ssl/sendbuf"
	"secure-socket/transport"
	"secure-socket/transport/activesock"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type state int

const (
	stateNull state = iota
	stateHandshaking
	stateEstablished
)

func (st state) String() string {
	switch st {
	case stateHandshaking:
		return "handshaking"
	case stateEstablished:
		return "established"
	}
	return "null"
}

// writeData is a send waiting in the delayed queue. cipher is set once the
// plaintext was encrypted so it is never encrypted twice.
type writeData struct {
	token    any
	plain    []byte
	cipher   []byte
	plainLen int
	// trailer is engine output produced after cipher. It goes out right
	// behind it.
	trailer []byte
}

type Sock struct {
	name    string
	logger  *zap.Logger
	param   Param
	backend engine.Backend
	parent  *Sock

	mu       sync.Mutex
	role     engine.Role
	state    state
	closed   bool
	cert     *Cert
	userData any

	asock    *activesock.Sock
	listener *activesock.Sock

	session engine.Session
	// wbio collects what the engine pushes, rbio holds what it pulls.
	wbio bytes.Buffer
	rbio bytes.Buffer

	ring     *sendbuf.Ring
	toSend   []*sendbuf.Record
	draining bool

	delayed  *queue.NaiveQueue[*writeData]
	free     *stack.Stack[*writeData]
	flushing atomic.Bool

	renegPending bool
	readStarted  bool
	// readData holds the caller's buffer per read slot.
	readData [][]byte

	handshakeTimer *clock.Timer
	timerGen       uint64
	closeTimer     *clock.Timer

	verifyStatus VerifyStatus
	localCert    certinfo.Info
	remoteCert   certinfo.Info
	lastErr      engine.Code
}

// New creates an unconnected socket. Call StartConnect or StartAccept to use it.
func New(param Param) (*Sock, error) {
	param, err := param.normalize()
	if err != nil {
		return nil, err
	}

	backend, err := engine.Lookup(param.Engine)
	if err != nil {
		return nil, errors.Wrap(ErrNotSupported, err.Error())
	}

	return newSock(param, backend, nil), nil
}

func newSock(param Param, backend engine.Backend, parent *Sock) *Sock {
	name := "ssl" + uuid.NewString()[:8]

	return &Sock{
		name:     name,
		logger:   param.Logger.With(zap.String("sock", name)),
		param:    param,
		backend:  backend,
		parent:   parent,
		userData: param.UserData,
		delayed:  queue.NewNaive[*writeData](4),
		free:     stack.New[*writeData](4),
	}
}

func (s *Sock) Name() string { return s.name }

// Parent returns the listening socket s was accepted from, if any.
func (s *Sock) Parent() *Sock { return s.parent }

func (s *Sock) UserData() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userData
}

func (s *Sock) SetUserData(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData = v
}

// SetCertificate sets the credentials used by the next handshake. Accepted
// children inherit the listener's.
func (s *Sock) SetCertificate(c *Cert) error {
	if c == nil {
		return ErrInvalidArgs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.cert = c
	return nil
}

func (s *Sock) asockConfig() activesock.Config {
	return activesock.Config{Concurrency: s.param.Concurrency, Logger: s.param.Logger}
}

func (s *Sock) callbacks() activesock.Callbacks {
	return activesock.Callbacks{
		OnConnectComplete: s.onConnect,
		OnDataRead:        s.onDataRead,
		OnDataSent:        s.onDataSent,
	}
}

// StartConnect connects to remote and runs the handshake as client. The
// outcome is reported through OnConnectComplete.
func (s *Sock) StartConnect(ctx context.Context, dialer transport.ConnDialer, remote transport.Addr) error {
	if dialer == nil || remote == nil {
		return ErrInvalidArgs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.state != stateNull, s.asock != nil, s.listener != nil:
		return ErrInvalidOp
	}

	s.role = engine.RoleClient
	s.asock = activesock.Dial(ctx, dialer, remote, s.asockConfig(), s.callbacks())
	s.logger.Debug("connecting", zap.Stringer("remote", remote))

	return ErrPending
}

func (s *Sock) onConnect(as *activesock.Sock, err error) Result {
	if err != nil {
		if !s.current(as) {
			return Destroyed
		}
		s.reset()
		return s.notifyConnect(err)
	}

	s.mu.Lock()
	if s.asock != as {
		s.mu.Unlock()
		return Destroyed
	}
	err = s.beginHandshakeLocked()
	s.mu.Unlock()

	if err == nil {
		err = as.StartRead(s.param.ReadBufferSize)
	}
	if err != nil {
		s.reset()
		return s.notifyConnect(err)
	}

	if err := s.handshakeStep(); err != nil && !errors.Is(err, ErrPending) {
		return Destroyed
	}
	return Continue
}

// StartAccept accepts connections from l. Every connection becomes a child
// socket running the handshake as server; OnAcceptComplete reports it once
// the handshake succeeded.
func (s *Sock) StartAccept(l transport.ConnListener) error {
	if l == nil {
		return ErrInvalidArgs
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.state != stateNull, s.asock != nil, s.listener != nil:
		s.mu.Unlock()
		return ErrInvalidOp
	}

	s.role = engine.RoleServer
	ls := activesock.Listen(l, s.asockConfig(), activesock.Callbacks{OnAcceptComplete: s.onAccept})
	s.listener = ls
	s.mu.Unlock()

	if err := ls.StartAccept(); err != nil {
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
		ls.Close()
		return errors.Wrap(err, "starting accept")
	}

	s.logger.Debug("accepting", zap.Stringer("local", l.Addr()))
	return nil
}

func (s *Sock) onAccept(ls *activesock.Sock, conn transport.Conn, remote transport.Addr) Result {
	s.mu.Lock()
	if s.listener != ls {
		s.mu.Unlock()
		conn.Close()
		return Destroyed
	}
	child := newSock(s.param, s.backend, s)
	child.cert = s.cert
	child.role = engine.RoleServer
	s.mu.Unlock()

	child.mu.Lock()
	as := activesock.New(conn, child.asockConfig(), child.callbacks())
	child.asock = as
	err := child.beginHandshakeLocked()
	child.mu.Unlock()

	if err == nil {
		as.Post(func() { child.handshakeStep() })
		err = as.StartRead(child.param.ReadBufferSize)
	}
	if err != nil {
		s.logger.Warn("dropping accepted connection", zap.Stringer("remote", remote), zap.Error(err))
		child.Close()
		return Continue
	}

	child.logger.Debug("accepted", zap.Stringer("remote", remote), zap.String("parent", s.name))
	return Continue
}

// beginHandshakeLocked creates the engine session for the current role.
func (s *Sock) beginHandshakeLocked() error {
	prio, err := s.param.priority(s.role)
	if err != nil {
		return err
	}

	sess, err := s.backend.NewSession(s.role)
	if err != nil {
		return engineConfigError(err)
	}

	sess.SetTransport(s.push, s.pull)
	sess.SetVerifier(s.verify)

	setup := []func() error{
		func() error { return sess.SetPriority(prio) },
		func() error { return sess.SetCredentials(s.cert.credentials()) },
	}
	if s.role == engine.RoleClient && s.param.ServerName != "" {
		setup = append(setup, func() error { return sess.SetServerName(s.param.ServerName) })
	}
	if s.role == engine.RoleServer {
		setup = append(setup, func() error { return sess.SetClientAuth(s.param.clientAuth()) })
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			sess.Close()
			return engineConfigError(err)
		}
	}

	s.session = sess
	s.ring = sendbuf.New(s.param.SendBufferSize)
	s.verifyStatus = VerifyOK
	s.localCert, s.remoteCert = certinfo.Info{}, certinfo.Info{}
	s.setStateLocked(stateHandshaking)
	s.armHandshakeTimerLocked()

	return nil
}

func engineConfigError(err error) error {
	if errors.Is(err, engine.ErrNotSupported) {
		return errors.Wrap(ErrNotSupported, err.Error())
	}
	return errmap.Wrap(err)
}

func (s *Sock) setStateLocked(st state) {
	if s.state != st {
		s.logger.Debug("state changed", zap.Stringer("from", s.state), zap.Stringer("to", st))
	}
	s.state = st
}

func (s *Sock) push(p []byte) (int, error) {
	return s.wbio.Write(p)
}

func (s *Sock) pull(p []byte) (int, error) {
	if s.rbio.Len() == 0 {
		return 0, engine.ErrWouldBlock
	}
	return s.rbio.Read(p)
}

// current reports whether as still belongs to s.
func (s *Sock) current(as *activesock.Sock) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asock == as
}

func (s *Sock) notifyConnect(err error) Result {
	if cb := s.param.Callbacks.OnConnectComplete; cb != nil {
		return cb(s, err)
	}
	if err != nil {
		return Destroyed
	}
	return Continue
}

// reset tears the connection down and returns to the null state. The
// socket can connect again afterwards.
func (s *Sock) reset() {
	s.mu.Lock()
	as := s.resetLocked()
	s.mu.Unlock()

	if as != nil {
		as.Close()
	}
}

func (s *Sock) resetLocked() *activesock.Sock {
	s.setStateLocked(stateNull)
	s.stopHandshakeTimerLocked()

	if s.session != nil {
		if err := s.session.Close(); err != nil {
			s.logger.Debug("closing engine session", zap.Error(err))
		}
		s.session = nil
	}

	as := s.asock
	s.asock = nil

	s.rbio.Reset()
	s.wbio.Reset()
	for _, wd := range s.delayed.Clear() {
		s.recycleLocked(wd)
	}
	s.toSend = nil
	if s.ring != nil {
		s.ring.Reset()
		s.ring = nil
	}

	s.renegPending = false
	s.readStarted = false
	s.readData = nil

	return as
}

// Close releases the socket. It is idempotent and may be called from callbacks.
func (s *Sock) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	as := s.resetLocked()
	ls := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if as != nil {
		err = as.Close()
	}
	if ls != nil {
		if lerr := ls.Close(); lerr != nil {
			err = lerr
		}
	}

	s.logger.Debug("closed")
	return errors.Wrap(err, "closing")
}

type Info struct {
	Established bool
	Proto       Proto
	Cipher      cipher.Suite
	Engine      string

	LocalAddr  transport.Addr
	RemoteAddr transport.Addr

	LocalCertInfo  certinfo.Info
	RemoteCertInfo certinfo.Info

	VerifyStatus VerifyStatus
	// LastNativeErr is the engine code of the last engine failure.
	LastNativeErr engine.Code
}

func (s *Sock) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Established:    s.state == stateEstablished,
		Engine:         s.backend.Name(),
		LocalCertInfo:  s.localCert,
		RemoteCertInfo: s.remoteCert,
		VerifyStatus:   s.verifyStatus,
		LastNativeErr:  s.lastErr,
	}

	if info.Established {
		st := s.session.State()
		info.Proto = ProtoOf(st.Version)
		info.Cipher = cipher.Suite(st.CipherSuite)
	}

	switch {
	case s.asock != nil:
		info.LocalAddr = s.asock.LocalAddr()
		info.RemoteAddr = s.asock.RemoteAddr()
	case s.listener != nil:
		info.LocalAddr = s.listener.LocalAddr()
	}

	return info
}
