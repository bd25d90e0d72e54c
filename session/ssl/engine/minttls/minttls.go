// Package minttls is an engine backend on mint, a TLS 1.3 stack with a
// native non-blocking mode. Renegotiation is a key update.
package minttls

import (
	"crypto"
	"crypto/tls"
	"io"
	"net"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/engine/alert"
	"time"

	"github.com/bifurcation/mint"
	"github.com/pkg/errors"
)

const Name = "mint"

var defaultSuites = []mint.CipherSuite{
	mint.TLS_AES_128_GCM_SHA256,
	mint.TLS_AES_256_GCM_SHA384,
}

func init() {
	engine.Register(backend{})
}

type backend struct{}

func (backend) Name() string { return Name }

func (backend) Ciphers() []uint16 {
	ids := make([]uint16, 0, len(defaultSuites))
	for _, s := range defaultSuites {
		ids = append(ids, uint16(s))
	}
	return ids
}

func (backend) NewSession(role engine.Role) (engine.Session, error) {
	return &session{
		role: role,
		cfg: &mint.Config{
			NonBlocking: true,
			// Peer certificates are judged by the verifier.
			InsecureSkipVerify: true,
			CipherSuites:       defaultSuites,
		},
	}, nil
}

// memConn hands mint the engine transport. mint reads zero bytes without
// an error as "would block".
type memConn struct {
	push engine.PushFunc
	pull engine.PullFunc
}

func (c *memConn) Read(p []byte) (int, error) {
	n, err := c.pull(p)
	if errors.Is(err, engine.ErrWouldBlock) {
		return n, nil
	}
	return n, err
}

func (c *memConn) Write(p []byte) (int, error) { return c.push(p) }
func (c *memConn) Close() error                { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "engine" }
func (memAddr) String() string  { return "engine" }

func (c *memConn) LocalAddr() net.Addr              { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr             { return memAddr{} }
func (c *memConn) SetDeadline(time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

type session struct {
	role     engine.Role
	cfg      *mint.Config
	verifier engine.Verifier
	local    *mint.Certificate

	conn *mint.Conn
	mem  *memConn

	handshakeDone bool
	failed        error
	state         engine.State
	closed        bool
}

var _ engine.Session = (*session)(nil)

func (s *session) SetTransport(push engine.PushFunc, pull engine.PullFunc) {
	s.mem = &memConn{push: push, pull: pull}
}

func (s *session) SetPriority(p engine.Priority) error {
	if !p.Contains(tls.VersionTLS13) {
		return errors.Wrap(engine.ErrNotSupported, "mint speaks TLS 1.3 only")
	}
	if len(p.CipherSuites) == 0 {
		s.cfg.CipherSuites = defaultSuites
		return nil
	}

	suites := make([]mint.CipherSuite, 0, len(p.CipherSuites))
	for _, id := range p.CipherSuites {
		if !supported(id) {
			return errors.Wrapf(engine.ErrNotSupported, "cipher %s", tls.CipherSuiteName(id))
		}
		suites = append(suites, mint.CipherSuite(id))
	}
	s.cfg.CipherSuites = suites

	return nil
}

func supported(id uint16) bool {
	for _, s := range defaultSuites {
		if uint16(s) == id {
			return true
		}
	}
	return false
}

func (s *session) SetCredentials(c engine.Credentials) error {
	s.cfg.RootCAs = c.RootCAs

	if len(c.Chain) == 0 {
		return nil
	}
	signer, ok := c.PrivateKey.(crypto.Signer)
	if !ok {
		return errors.Wrap(engine.ErrNotSupported, "private key can't sign")
	}

	s.local = &mint.Certificate{Chain: c.Chain, PrivateKey: signer}
	s.cfg.Certificates = []*mint.Certificate{s.local}

	return nil
}

func (s *session) SetServerName(name string) error {
	s.cfg.ServerName = name
	return nil
}

func (s *session) SetClientAuth(mode engine.ClientAuth) error {
	switch mode {
	case engine.NoClientCert:
		s.cfg.RequireClientAuth = false
	case engine.RequestClientCert, engine.RequireClientCert:
		// mint has no optional client authentication.
		s.cfg.RequireClientAuth = true
	default:
		return engine.ErrNotSupported
	}
	return nil
}

func (s *session) SetVerifier(v engine.Verifier) {
	s.verifier = v
}

func (s *session) Handshake() error {
	if s.closed {
		return engine.ErrClosed
	}
	if s.failed != nil {
		return s.failed
	}
	if s.handshakeDone {
		return nil
	}

	if s.conn == nil {
		if s.role == engine.RoleClient && s.cfg.ServerName == "" {
			return errors.Wrap(engine.ErrNotSupported, "mint clients need a server name")
		}
		s.conn = mint.NewConn(s.mem, s.cfg, s.role == engine.RoleClient)
	}

	// In non-blocking mode every call takes one step.
	for {
		a := s.conn.Handshake()
		switch a {
		case mint.AlertNoAlert, mint.AlertStatelessRetry:
		case mint.AlertWouldBlock:
			return engine.ErrWouldBlock
		default:
			s.failed = alertError(a)
			return s.failed
		}

		cs := s.conn.ConnectionState()
		if cs.CipherSuite.Suite == 0 {
			continue
		}

		s.state = engine.State{
			HandshakeComplete: true,
			Version:           tls.VersionTLS13,
			CipherSuite:       uint16(cs.CipherSuite.Suite),
			ServerName:        s.cfg.ServerName,
			PeerCertificates:  cs.PeerCertificates,
		}
		if s.local != nil && len(s.local.Chain) > 0 {
			s.state.LocalCertificate = s.local.Chain[0]
		}

		if s.verifier != nil {
			if err := s.verifier(s.state); err != nil {
				s.failed = err
				return err
			}
		}

		s.handshakeDone = true
		return nil
	}
}

func (s *session) Send(p []byte) (int, error) {
	if s.closed {
		return 0, engine.ErrClosed
	}
	if !s.handshakeDone {
		return 0, engine.ErrWouldBlock
	}

	n, err := s.conn.Write(p)
	if err != nil {
		return n, mapError(err)
	}
	return n, nil
}

func (s *session) Recv(p []byte) (int, error) {
	if s.closed {
		return 0, engine.ErrClosed
	}
	if !s.handshakeDone {
		return 0, engine.ErrWouldBlock
	}

	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, engine.ErrWouldBlock
	}
	return 0, mapError(err)
}

// Renegotiate sends a key update that asks the peer to update too.
func (s *session) Renegotiate() error {
	if s.closed {
		return engine.ErrClosed
	}
	if !s.handshakeDone {
		return engine.ErrWouldBlock
	}
	return mapError(s.conn.SendKeyUpdate(true))
}

func (s *session) State() engine.State {
	return s.state
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}
	return mapError(s.conn.Close())
}

func alertError(a mint.Alert) error {
	if a == mint.AlertCloseNotify {
		return engine.NewError(engine.NewCode(engine.LibSys, 0), alert.NewError(io.EOF, alert.CloseNotify, true))
	}

	desc := alert.Description(a)
	code := engine.NewCode(engine.LibSSL, engine.ReasonAlert+uint32(desc))
	return engine.NewError(code, alert.NewError(nil, desc, false))
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var a mint.Alert
	if errors.As(err, &a) {
		if a == mint.AlertWouldBlock {
			return engine.ErrWouldBlock
		}
		return alertError(a)
	}

	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return err
	}
	return engine.NewError(engine.NewCode(engine.LibSSL, 1), err)
}
