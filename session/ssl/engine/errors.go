package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrWouldBlock     = errors.New("engine: operation would block")
	ErrRenegotiate    = errors.New("engine: peer started a handshake")
	ErrNotSupported   = errors.New("engine: not supported")
	ErrTooMany        = errors.New("engine: priority string too long")
	ErrUnknownBackend = errors.New("engine: unknown backend")
	ErrClosed         = errors.New("engine: session closed")
)

// Lib identifies the subsystem a native error comes from.
type Lib uint8

const (
	LibNone Lib = 0
	LibSys  Lib = 2
	LibPEM  Lib = 9
	LibX509 Lib = 11
	LibASN1 Lib = 13
	LibSSL  Lib = 20
)

func (l Lib) String() string {
	switch l {
	case LibNone:
		return "none"
	case LibSys:
		return "sys"
	case LibPEM:
		return "pem"
	case LibX509:
		return "x509"
	case LibASN1:
		return "asn1"
	case LibSSL:
		return "ssl"
	}
	return fmt.Sprintf("lib(%d)", uint8(l))
}

// Code is a native engine error: the library in the top byte, the reason
// in the low 24 bits.
type Code uint32

// ReasonAlert offsets reasons that carry a TLS alert description.
const ReasonAlert = 1000

func NewCode(lib Lib, reason uint32) Code {
	return Code(uint32(lib)<<24 | reason&0xFFFFFF)
}

func (c Code) Lib() Lib { return Lib(c >> 24) }

func (c Code) Reason() uint32 { return uint32(c) & 0xFFFFFF }

func (c Code) String() string {
	return fmt.Sprintf("%s:%d", c.Lib(), c.Reason())
}

// Error is what backends return for failures the peer or the
// certificates caused.
type Error struct {
	Code Code
	Msg  string
	// Err is the backend's own error, when there is one.
	Err error
}

func NewError(code Code, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine error %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the native code of err. Errors that aren't [*Error] report
// a generic ssl library code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return NewCode(LibSSL, 1)
}
