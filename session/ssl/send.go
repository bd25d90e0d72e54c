package ssl

import (
	"bytes"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/errmap"
	"secure-socket/session/ssl/sendbuf"
	"secure-socket/transport/activesock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Send encrypts data and sends it. It returns [ErrPending] and reports the
// plaintext length through OnDataSent with token once the ciphertext left.
// data may be reused as soon as Send returns. Sends complete in order.
func (s *Sock) Send(data []byte, token any) error {
	if len(data) == 0 {
		return ErrInvalidArgs
	}

	if err := s.flushDelayedSend(); err != nil && !errors.Is(err, errBusy) {
		return err
	}

	s.mu.Lock()
	if s.state != stateEstablished {
		s.mu.Unlock()
		return ErrInvalidOp
	}
	if len(data) > s.ring.Cap() {
		s.mu.Unlock()
		return errors.Wrapf(ErrNoMem, "%d bytes with a %d byte send buffer", len(data), s.ring.Cap())
	}

	wd := s.free.Take(func() *writeData { return &writeData{} })
	wd.token, wd.plain, wd.plainLen = token, data, len(data)

	err := errBusy
	if s.delayed.Len() == 0 {
		err = s.sslWriteLocked(wd)
	}

	switch {
	case errors.Is(err, errBusy):
		if wd.cipher == nil {
			wd.plain = bytes.Clone(data)
		}
		s.delaySendLocked(wd)
		s.mu.Unlock()

		// A flush finishing meanwhile didn't see this one.
		s.flushDelayedSend()
		return ErrPending
	case err != nil:
		s.recycleLocked(wd)
		s.mu.Unlock()
		return err
	}

	s.recycleLocked(wd)
	s.mu.Unlock()

	s.drainSend()
	return ErrPending
}

// sslWriteLocked encrypts wd into a ring record queued for sending. It
// returns errBusy when that has to wait, keeping the ciphertext in wd if it
// was already produced.
func (s *Sock) sslWriteLocked(wd *writeData) error {
	if s.renegPending && wd.cipher == nil {
		return errBusy
	}

	out := wd.cipher
	if out == nil {
		if _, err := s.session.Send(wd.plain); err != nil {
			s.wbio.Reset()
			if errors.Is(err, engine.ErrWouldBlock) {
				return errBusy
			}
			s.lastErr = engine.CodeOf(err)
			return errmap.Wrap(err)
		}
		out = s.wbio.Bytes()
	}

	var rec *sendbuf.Record
	switch {
	case len(out) > s.ring.Cap():
		// Record overhead pushed it past the arena.
		rec = sendbuf.Detached(bytes.Clone(out))
	default:
		var ok bool
		if rec, ok = s.ring.Alloc(len(out)); !ok {
			if wd.cipher == nil {
				wd.cipher = bytes.Clone(out)
				wd.plain = nil
			}
			s.wbio.Reset()
			return errBusy
		}
		copy(rec.Bytes(), out)
	}
	s.wbio.Reset()

	rec.Token = wd.token
	rec.PlainLen = wd.plainLen
	s.toSend = append(s.toSend, rec)

	if len(wd.trailer) > 0 {
		tr := sendbuf.Detached(wd.trailer)
		tr.Internal = true
		s.toSend = append(s.toSend, tr)
	}

	return nil
}

func (s *Sock) delaySendLocked(wd *writeData) {
	s.delayed.Enqueue(wd)
	s.logger.Debug("send delayed", zap.Uint("queued", s.delayed.Len()))
}

func (s *Sock) recycleLocked(wd *writeData) {
	*wd = writeData{}
	s.free.Push(wd)
}

// flushDelayedSend writes queued sends in order. It stops at the first one
// that can't be written, leaving it and the rest queued. errBusy means
// another flush is running or the queue couldn't be emptied.
func (s *Sock) flushDelayedSend() error {
	if s.flushing.Load() {
		return errBusy
	}

	s.mu.Lock()
	if s.flushing.Load() {
		s.mu.Unlock()
		return errBusy
	}
	s.flushing.Store(true)

	for s.session != nil {
		wd, err := s.delayed.Peek()
		if err != nil {
			break
		}

		if err := s.sslWriteLocked(wd); err != nil {
			s.flushing.Store(false)
			s.mu.Unlock()
			return err
		}

		s.delayed.Dequeue()
		s.recycleLocked(wd)
		s.mu.Unlock()

		s.drainSend()
		s.mu.Lock()
	}

	s.flushing.Store(false)
	s.mu.Unlock()
	return nil
}

type failedSend struct {
	token any
	err   error
}

// drainSend hands queued records to the active socket in order. Only one
// goroutine drains at a time; the others leave their records to it.
// Records the active socket refuses complete through OnDataSent right away.
func (s *Sock) drainSend() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	var failed []failedSend
	for len(s.toSend) > 0 && s.asock != nil {
		rec := s.toSend[0]
		s.toSend[0] = nil
		s.toSend = s.toSend[1:]

		as, data := s.asock, rec.Bytes()
		s.mu.Unlock()
		err := as.Send(data, rec)
		s.mu.Lock()

		if err != nil && !errors.Is(err, activesock.ErrPending) {
			s.logger.Debug("send failed", zap.Error(err))
			if s.ring != nil {
				s.ring.Free(rec)
			}
			if !rec.Internal {
				failed = append(failed, failedSend{token: rec.Token, err: err})
			}
		}
	}
	s.draining = false
	s.mu.Unlock()

	cb := s.param.Callbacks.OnDataSent
	for _, f := range failed {
		if cb != nil {
			cb(s, f.token, 0, f.err)
		}
	}
}

func (s *Sock) onDataSent(as *activesock.Sock, token any, sent int, err error) Result {
	rec, _ := token.(*sendbuf.Record)

	s.mu.Lock()
	if s.asock != as {
		s.mu.Unlock()
		return Destroyed
	}
	if s.ring != nil {
		s.ring.Free(rec)
	}
	s.mu.Unlock()

	if rec != nil && !rec.Internal {
		n := rec.PlainLen
		if err != nil {
			n = 0
		}
		if cb := s.param.Callbacks.OnDataSent; cb != nil && cb(s, rec.Token, n, err) == Destroyed {
			return Destroyed
		}
	}

	if err := s.flushDelayedSend(); err != nil && !errors.Is(err, errBusy) {
		s.logger.Debug("flushing delayed sends", zap.Error(err))
	}
	return Continue
}
