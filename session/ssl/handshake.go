package ssl

import (
	"crypto/x509"
	"runtime"
	"secure-socket/session/ssl/certinfo"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/errmap"
	"secure-socket/session/ssl/sendbuf"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Closing a socket right after a failed handshake may reset the connection
// before the alert got out on Windows, so failed children linger a moment there.
var delayedClose = runtime.GOOS == "windows"

const delayedCloseTimeout = 200 * time.Millisecond

// handshakeStep advances the handshake as far as the buffered input allows.
// It returns nil when the handshake completed, [ErrPending] when it waits
// for the peer, and the failure otherwise, after the socket was reset.
func (s *Sock) handshakeStep() error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrInvalidOp
	}

	prev := s.state
	err := s.session.Handshake()
	s.queueOutputLocked()

	switch {
	case err == nil:
		s.stopHandshakeTimerLocked()
		s.renegPending = false
		if prev != stateEstablished {
			s.setStateLocked(stateEstablished)
			s.extractCertsLocked()
		}
	case errors.Is(err, engine.ErrWouldBlock):
	default:
		s.lastErr = engine.CodeOf(err)
	}
	s.mu.Unlock()

	s.drainSend()

	switch {
	case err == nil:
		if prev == stateEstablished {
			s.flushDelayedSend()
			return nil
		}
		s.established()
		return nil
	case errors.Is(err, engine.ErrWouldBlock):
		return ErrPending
	}

	mapped := errmap.Wrap(err)
	if prev == stateEstablished {
		s.logger.Warn("renegotiation failed", zap.Error(mapped))
		s.deliverRead(nil, mapped)
		s.reset()
	} else {
		s.handshakeFailed(mapped)
	}
	return mapped
}

func (s *Sock) established() {
	info := s.Info()
	s.logger.Info("established",
		zap.Stringer("role", s.role),
		zap.Stringer("proto", info.Proto),
		zap.Stringer("cipher", info.Cipher),
		zap.Stringer("remote", info.RemoteAddr),
	)

	if s.role == engine.RoleServer {
		if cb := s.param.Callbacks.OnAcceptComplete; cb != nil && s.parent != nil {
			cb(s.parent, s, info.RemoteAddr)
		}
		return
	}
	s.notifyConnect(nil)
}

// handshakeFailed gets rid of a socket whose handshake failed. Accepted
// children go away silently, clients learn through OnConnectComplete.
func (s *Sock) handshakeFailed(err error) {
	s.logger.Warn("handshake failed", zap.Stringer("role", s.role), zap.Error(err))

	if s.role == engine.RoleClient {
		s.reset()
		s.notifyConnect(err)
		return
	}

	if !delayedClose {
		s.Close()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.stopHandshakeTimerLocked()
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	s.setStateLocked(stateNull)

	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	s.closeTimer = s.param.Clock.AfterFunc(delayedCloseTimeout, func() { s.Close() })
	s.logger.Debug("closing after delay", zap.Duration("delay", delayedCloseTimeout))
}

func (s *Sock) armHandshakeTimerLocked() {
	s.stopHandshakeTimerLocked()
	if s.param.HandshakeTimeout <= 0 {
		return
	}

	gen := s.timerGen
	as := s.asock
	s.handshakeTimer = s.param.Clock.AfterFunc(s.param.HandshakeTimeout, func() {
		as.Post(func() { s.onHandshakeTimeout(gen) })
	})
}

func (s *Sock) stopHandshakeTimerLocked() {
	if s.handshakeTimer == nil {
		return
	}
	s.handshakeTimer.Stop()
	s.handshakeTimer = nil
	s.timerGen++
}

func (s *Sock) onHandshakeTimeout(gen uint64) {
	s.mu.Lock()
	if s.handshakeTimer == nil || s.timerGen != gen || s.state != stateHandshaking {
		s.mu.Unlock()
		return
	}
	s.handshakeTimer = nil
	s.timerGen++
	s.mu.Unlock()

	s.handshakeFailed(errors.Wrapf(ErrTimedOut, "after %s", s.param.HandshakeTimeout))
}

func (s *Sock) extractCertsLocked() {
	st := s.session.State()

	if st.LocalCertificate != nil {
		certinfo.Extract(st.LocalCertificate, &s.localCert)
	}
	if len(st.PeerCertificates) > 0 {
		certinfo.Extract(st.PeerCertificates[0], &s.remoteCert)
	}
}

// queueOutputLocked moves whatever the engine pushed into a record waiting
// to be sent.
func (s *Sock) queueOutputLocked() {
	if s.wbio.Len() == 0 {
		return
	}

	out := s.wbio.Bytes()

	// Ciphertext waiting for ring space was sealed first.
	if head, err := s.delayed.Peek(); err == nil && head.cipher != nil {
		head.trailer = append(head.trailer, out...)
		s.wbio.Reset()
		return
	}

	rec, ok := s.ring.Alloc(len(out))
	if ok {
		copy(rec.Bytes(), out)
	} else {
		rec = sendbuf.Detached(append([]byte(nil), out...))
	}
	rec.Internal = true
	s.wbio.Reset()

	s.toSend = append(s.toSend, rec)
}

// verify runs inside the engine's handshake while the caller holds the lock.
func (s *Sock) verify(st engine.State) error {
	// Clients without certificate are the engine's business.
	if s.role == engine.RoleServer && len(st.PeerCertificates) == 0 {
		return nil
	}

	var roots *x509.CertPool
	if s.cert != nil {
		roots = s.cert.RootCAs
	}

	var serverName string
	if s.role == engine.RoleClient && s.param.VerifyPeer {
		serverName = s.param.ServerName
	}

	status := verifyPeer(st.PeerCertificates, roots, serverName)
	s.verifyStatus |= status
	if status == VerifyOK || !s.param.VerifyPeer {
		return nil
	}

	s.logger.Warn("peer verification failed", zap.Strings("status", status.Strings()))
	return engine.NewError(status.code(), errors.Wrap(errVerify, status.String()))
}

// Renegotiate starts a new handshake on an established connection. With
// mint it sends a key update and completes at once; crypto/tls doesn't
// renegotiate and reports [ErrNotSupported]. [ErrRenegotiationPending] is
// only seen with engines whose renegotiation waits for the peer.
func (s *Sock) Renegotiate() error {
	s.mu.Lock()
	switch {
	case s.state != stateEstablished:
		s.mu.Unlock()
		return ErrInvalidOp
	case s.renegPending:
		s.mu.Unlock()
		return ErrRenegotiationPending
	}

	err := s.session.Renegotiate()
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrWouldBlock):
		s.renegPending = true
	case errors.Is(err, engine.ErrNotSupported):
		s.mu.Unlock()
		return errors.Wrap(ErrNotSupported, err.Error())
	default:
		s.lastErr = engine.CodeOf(err)
		s.mu.Unlock()
		return errmap.Wrap(err)
	}
	s.mu.Unlock()

	return s.handshakeStep()
}
