package ssl

import (
	"io"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/errmap"
	"secure-socket/transport"
	"secure-socket/transport/activesock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// StartRead starts delivering decrypted data through OnDataRead, into
// Concurrency buffers of ReadBufferSize bytes.
func (s *Sock) StartRead() error {
	bufs := make([][]byte, s.param.Concurrency)
	for i := range bufs {
		bufs[i] = make([]byte, s.param.ReadBufferSize)
	}
	return s.StartReadWithBuffers(bufs)
}

// StartReadWithBuffers is StartRead with caller owned buffers, one per read slot.
func (s *Sock) StartReadWithBuffers(bufs [][]byte) error {
	if len(bufs) == 0 {
		return ErrInvalidArgs
	}
	for _, b := range bufs {
		if len(b) == 0 {
			return ErrInvalidArgs
		}
	}

	s.mu.Lock()
	switch {
	case s.state != stateEstablished:
		s.mu.Unlock()
		return ErrInvalidOp
	case s.readStarted:
		s.mu.Unlock()
		return ErrInvalidOp
	}
	s.readStarted = true
	s.readData = bufs
	as := s.asock
	s.mu.Unlock()

	// Data may have arrived together with the last handshake message.
	as.Post(func() { s.drainRead(0) })
	return nil
}

func (s *Sock) onDataRead(as *activesock.Sock, slot int, data []byte, err error) Result {
	s.mu.Lock()
	if s.asock != as {
		s.mu.Unlock()
		return Destroyed
	}
	s.rbio.Write(data)
	st := s.state
	s.mu.Unlock()

	if st == stateHandshaking && len(data) > 0 {
		if herr := s.handshakeStep(); herr != nil && !errors.Is(herr, ErrPending) {
			return Destroyed
		}
	}

	if s.drainRead(slot) == Destroyed {
		return Destroyed
	}
	if err == nil {
		return Continue
	}

	err = connError(err)

	s.mu.Lock()
	st = s.state
	stale := s.asock != as
	s.mu.Unlock()

	switch {
	case stale, st == stateNull:
	case st == stateHandshaking:
		s.handshakeFailed(err)
	default:
		s.logger.Debug("connection ended", zap.Error(err))
		s.deliverRead(nil, err)
		s.reset()
	}
	return Destroyed
}

func connError(err error) error {
	if errors.Is(err, transport.ErrConnClosed) || errors.Is(err, io.EOF) {
		return ErrEOF
	}
	return err
}

// drainRead decrypts buffered ciphertext into the buffer of slot and delivers
// it until the engine runs dry.
func (s *Sock) drainRead(slot int) Result {
	for {
		s.mu.Lock()
		if s.state != stateEstablished || !s.readStarted {
			s.mu.Unlock()
			return Continue
		}

		buf := s.readData[slot%len(s.readData)]
		n, err := s.session.Recv(buf)
		s.queueOutputLocked()
		reneg := s.renegPending
		if err != nil && !errors.Is(err, engine.ErrWouldBlock) && !errors.Is(err, engine.ErrRenegotiate) {
			s.lastErr = engine.CodeOf(err)
		}
		s.mu.Unlock()

		s.drainSend()

		switch {
		case n > 0:
			if s.deliverRead(buf[:n], nil) == Destroyed {
				return Destroyed
			}
			continue
		case err == nil:
			return Continue
		case errors.Is(err, engine.ErrWouldBlock):
			if reneg {
				return s.renegotiateStep()
			}
			return Continue
		case errors.Is(err, engine.ErrRenegotiate):
			if s.renegotiateStep() == Destroyed {
				return Destroyed
			}
			continue
		case errors.Is(err, io.EOF):
			s.logger.Debug("peer closed the session")
			s.deliverRead(nil, ErrEOF)
		default:
			mapped := errmap.Wrap(err)
			s.logger.Warn("decrypting", zap.Error(mapped))
			s.deliverRead(nil, mapped)
		}

		s.reset()
		return Destroyed
	}
}

func (s *Sock) renegotiateStep() Result {
	if err := s.handshakeStep(); err != nil && !errors.Is(err, ErrPending) {
		return Destroyed
	}
	return Continue
}

func (s *Sock) deliverRead(data []byte, err error) Result {
	if cb := s.param.Callbacks.OnDataRead; cb != nil {
		return cb(s, data, err)
	}
	return Continue
}
