package ssl

import (
	"secure-socket/transport/activesock"

	"github.com/pkg/errors"
)

var (
	// ErrPending means the operation continues and completes through a callback.
	ErrPending              = errors.New("operation is pending")
	ErrInvalidOp            = errors.New("invalid operation in current state")
	ErrInvalidArgs          = errors.New("invalid arguments")
	ErrRenegotiationPending = errors.New("renegotiation is already pending")
	ErrTooMany              = errors.New("too many entries")
	ErrNoMem                = errors.New("send buffer is too small")
	ErrTimedOut             = errors.New("handshake timed out")
	ErrNotSupported         = errors.New("not supported")
	ErrClosed               = errors.New("secure socket is closed")
	ErrEOF                  = errors.New("connection closed by peer")
)

// errBusy means data can't be encrypted or queued right now and waits in
// the delayed send queue.
var errBusy = errors.New("busy")

// Result is returned from callbacks. Destroyed tells the caller the socket
// was closed inside the callback.
type Result = activesock.Result

const (
	Continue  = activesock.Continue
	Destroyed = activesock.Destroyed
)
