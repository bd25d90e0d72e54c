// Package gotls is the default engine backend, built on crypto/tls.
//
// crypto/tls only speaks to a blocking net.Conn, so each session runs the
// tls.Conn on a worker goroutine whose transport parks instead of blocking.
// The worker runs only while the owner waits for it, so the push and pull
// functions are never called concurrently with the owner.
package gotls

import (
	"crypto/tls"
	"io"
	"net"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/engine/alert"

	"github.com/pkg/errors"
)

const Name = "gotls"

const scratchSize = 16 << 10

func init() {
	engine.Register(backend{})
}

type backend struct{}

func (backend) Name() string { return Name }

func (backend) Ciphers() []uint16 {
	suites := tls.CipherSuites()
	ids := make([]uint16, 0, len(suites))
	for _, s := range suites {
		ids = append(ids, s.ID)
	}
	return ids
}

func (backend) NewSession(role engine.Role) (engine.Session, error) {
	return &session{
		role: role,
		cfg: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Peer certificates are judged by the verifier.
			InsecureSkipVerify: true,
			// A renegotiation parked mid-read would hold the handshake
			// lock that Send needs.
			Renegotiation: tls.RenegotiateNever,
		},
	}, nil
}

type opKind int

const (
	opNone opKind = iota
	opHandshake
	opRead
)

type result struct {
	n   int
	err error
}

type session struct {
	role     engine.Role
	cfg      *tls.Config
	verifier engine.Verifier
	leaf     *tls.Certificate

	push engine.PushFunc
	pull engine.PullFunc

	conn   *tls.Conn
	bridge *bridge

	ops        chan opKind
	done       chan result
	workerExit chan struct{}
	parked     opKind

	scratch []byte
	pending []byte

	handshakeDone bool
	state         engine.State
	closed        bool
}

var _ engine.Session = (*session)(nil)

func (s *session) SetTransport(push engine.PushFunc, pull engine.PullFunc) {
	s.push, s.pull = push, pull
}

func (s *session) SetPriority(p engine.Priority) error {
	if p.MaxVersion != 0 && p.MaxVersion < tls.VersionTLS10 {
		return errors.Wrap(engine.ErrNotSupported, "crypto/tls needs TLS 1.0 or later")
	}

	s.cfg.MinVersion = max(p.MinVersion, tls.VersionTLS10)
	s.cfg.MaxVersion = p.MaxVersion
	s.cfg.CipherSuites = nil

	supported := make(map[uint16]bool)
	for _, id := range (backend{}).Ciphers() {
		supported[id] = true
	}
	for _, id := range p.CipherSuites {
		if !supported[id] {
			return errors.Wrapf(engine.ErrNotSupported, "cipher %s", tls.CipherSuiteName(id))
		}
		s.cfg.CipherSuites = append(s.cfg.CipherSuites, id)
	}

	return nil
}

func (s *session) SetCredentials(c engine.Credentials) error {
	s.cfg.RootCAs = c.RootCAs
	s.cfg.ClientCAs = c.RootCAs

	if len(c.Chain) == 0 {
		return nil
	}
	if c.PrivateKey == nil {
		return errors.Wrap(engine.ErrNotSupported, "certificate without private key")
	}

	cert := tls.Certificate{PrivateKey: c.PrivateKey, Leaf: c.Chain[0]}
	for _, x := range c.Chain {
		cert.Certificate = append(cert.Certificate, x.Raw)
	}
	s.leaf = &cert
	s.cfg.Certificates = []tls.Certificate{cert}

	return nil
}

func (s *session) SetServerName(name string) error {
	s.cfg.ServerName = name
	return nil
}

func (s *session) SetClientAuth(mode engine.ClientAuth) error {
	switch mode {
	case engine.NoClientCert:
		s.cfg.ClientAuth = tls.NoClientCert
	case engine.RequestClientCert:
		s.cfg.ClientAuth = tls.RequestClientCert
	case engine.RequireClientCert:
		s.cfg.ClientAuth = tls.RequireAnyClientCert
	default:
		return engine.ErrNotSupported
	}
	return nil
}

func (s *session) SetVerifier(v engine.Verifier) {
	s.verifier = v
}

func (s *session) start() {
	s.cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if s.verifier == nil {
			return nil
		}
		return s.verifier(s.stateFrom(cs))
	}

	s.bridge = newBridge(s.push, s.pull)
	if s.role == engine.RoleServer {
		s.conn = tls.Server(s.bridge, s.cfg)
	} else {
		s.conn = tls.Client(s.bridge, s.cfg)
	}

	s.ops = make(chan opKind)
	s.done = make(chan result)
	s.workerExit = make(chan struct{})
	s.scratch = make([]byte, scratchSize)

	go s.work()
}

func (s *session) work() {
	defer close(s.workerExit)

	for op := range s.ops {
		var r result
		switch op {
		case opHandshake:
			r.err = s.conn.Handshake()
		case opRead:
			r.n, r.err = s.conn.Read(s.scratch)
		}

		select {
		case s.done <- r:
		case <-s.bridge.closed:
		}
	}
}

// run starts op on the worker, or resumes the op parked there, and waits
// until it finishes or parks.
func (s *session) run(op opKind) (result, error) {
	for {
		started := op
		if s.parked != opNone {
			started, s.parked = s.parked, opNone
			s.bridge.resume <- struct{}{}
		} else {
			s.ops <- op
		}

		select {
		case <-s.bridge.yield:
			s.parked = started
			return result{}, engine.ErrWouldBlock
		case r := <-s.done:
			if started == op {
				return r, nil
			}
			// A handshake finished while data was asked for.
			if err := s.finishHandshake(r.err); err != nil {
				return result{}, err
			}
		}
	}
}

func (s *session) finishHandshake(err error) error {
	if err != nil {
		return mapError(err)
	}

	s.handshakeDone = true
	s.state = s.stateFrom(s.conn.ConnectionState())
	return nil
}

func (s *session) Handshake() error {
	if s.closed {
		return engine.ErrClosed
	}
	if s.handshakeDone {
		return nil
	}
	if s.conn == nil {
		s.start()
	}

	r, err := s.run(opHandshake)
	if err != nil {
		return err
	}
	return s.finishHandshake(r.err)
}

func (s *session) Send(p []byte) (int, error) {
	if s.closed {
		return 0, engine.ErrClosed
	}
	if !s.handshakeDone {
		return 0, engine.ErrWouldBlock
	}

	n, err := s.conn.Write(p)
	return n, mapError(err)
}

func (s *session) Recv(p []byte) (int, error) {
	if s.closed {
		return 0, engine.ErrClosed
	}

	if len(s.pending) == 0 {
		if s.conn == nil {
			return 0, engine.ErrWouldBlock
		}

		r, err := s.run(opRead)
		if err != nil {
			return 0, err
		}
		if r.n == 0 && r.err != nil {
			return 0, mapError(r.err)
		}
		s.pending = s.scratch[:r.n]
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Renegotiate isn't offered: crypto/tls neither initiates renegotiation
// nor exposes TLS 1.3 key updates.
func (s *session) Renegotiate() error {
	return errors.Wrap(engine.ErrNotSupported, "renegotiation with crypto/tls")
}

func (s *session) State() engine.State {
	return s.state
}

func (s *session) stateFrom(cs tls.ConnectionState) engine.State {
	st := engine.State{
		HandshakeComplete: cs.HandshakeComplete,
		Version:           cs.Version,
		CipherSuite:       cs.CipherSuite,
		ServerName:        cs.ServerName,
		PeerCertificates:  cs.PeerCertificates,
	}
	if s.leaf != nil {
		st.LocalCertificate = s.leaf.Leaf
	}
	return st
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}

	// Sends close_notify through push when the handshake completed.
	err := s.conn.Close()
	s.bridge.Close()

	close(s.ops)
	<-s.workerExit

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return mapError(err)
}

// mapError gives errors from crypto/tls a native code.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return err
	}

	switch {
	case errors.Is(err, engine.ErrWouldBlock), errors.Is(err, engine.ErrClosed):
		return err
	case errors.Is(err, net.ErrClosed):
		return engine.ErrClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return engine.NewError(engine.NewCode(engine.LibSys, 0), err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "remote error" || opErr.Op == "local error") {
		if desc, ok := alert.ParseText(opErr.Err.Error()); ok {
			code := engine.NewCode(engine.LibSSL, engine.ReasonAlert+uint32(desc))
			return engine.NewError(code, alert.NewError(err, desc, opErr.Op == "remote error"))
		}
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return engine.NewError(engine.NewCode(engine.LibSSL, engine.ReasonAlert+uint32(alert.DecodeError)), err)
	}

	return engine.NewError(engine.NewCode(engine.LibSSL, 1), err)
}
