// Package errmap folds native engine error codes into the socket's status
// space. The native code always travels alongside, since the fold is lossy.
package errmap

import (
	"fmt"
	"secure-socket/session/ssl/engine"
)

const (
	// Start is the first status of the SSL error space.
	Start = 470000
	// SpaceSize is the width of the SSL error space.
	SpaceSize = 50000
	// MaxReason is the expected upper bound of native reason codes.
	MaxReason = 1200
)

type Status int

// Map is total: every code lands inside [Start, Start+SpaceSize).
func Map(code engine.Code) Status {
	lib, reason := uint32(code.Lib()), code.Reason()

	status := lib*MaxReason + reason
	if reason >= MaxReason || status >= SpaceSize {
		status = reason
	}
	if status >= SpaceSize {
		status %= SpaceSize
	}

	return Status(Start + int(status))
}

// Unmap recovers the code a status was packed from. Codes whose library was
// dropped by Map come back with [engine.LibNone].
func Unmap(s Status) (engine.Code, bool) {
	if !s.InSpace() {
		return 0, false
	}

	v := uint32(int(s) - Start)
	return engine.NewCode(engine.Lib(v/MaxReason), v%MaxReason), true
}

func (s Status) InSpace() bool {
	return s >= Start && s < Start+SpaceSize
}

func (s Status) String() string {
	code, ok := Unmap(s)
	if !ok {
		return fmt.Sprintf("status %d", int(s))
	}
	return fmt.Sprintf("ssl status %d (%s)", int(s), code)
}

// Error is an engine failure as surfaced to socket users.
type Error struct {
	Status Status
	Native engine.Code
	Err    error
}

// Wrap maps err. It returns nil for a nil error.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	code := engine.CodeOf(err)
	return &Error{Status: Map(code), Native: code, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
