// Package engine is the contract between the secure socket and the TLS
// implementation doing the cryptography. A backend never touches the
// network: ciphertext leaves through the push function and arrives through
// the pull function handed to [Session.SetTransport], and every call returns
// [ErrWouldBlock] instead of waiting for the peer.
package engine

import (
	"crypto"
	"crypto/x509"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// PushFunc writes outgoing ciphertext. It must accept the whole buffer.
type PushFunc func(p []byte) (int, error)

// PullFunc reads incoming ciphertext. It returns [ErrWouldBlock] when
// nothing is buffered.
type PullFunc func(p []byte) (int, error)

// Verifier decides on the peer's certificates once the engine received them.
// Returning an error aborts the handshake.
type Verifier func(state State) error

type ClientAuth int

const (
	NoClientCert ClientAuth = iota
	RequestClientCert
	RequireClientCert
)

type Credentials struct {
	Chain      []*x509.Certificate
	PrivateKey crypto.PrivateKey
	RootCAs    *x509.CertPool
}

// State describes a session. Certificates are known once the handshake completed.
type State struct {
	HandshakeComplete bool
	Version           uint16
	CipherSuite       uint16
	ServerName        string
	LocalCertificate  *x509.Certificate
	PeerCertificates  []*x509.Certificate
}

type Session interface {
	SetTransport(push PushFunc, pull PullFunc)
	SetPriority(p Priority) error
	SetCredentials(c Credentials) error
	SetServerName(name string) error
	SetClientAuth(mode ClientAuth) error
	SetVerifier(v Verifier)

	// Handshake advances the handshake as far as the buffered input allows.
	// It returns nil once the handshake is complete.
	Handshake() error
	// Send encrypts p and pushes the records before returning.
	Send(p []byte) (int, error)
	// Recv decrypts buffered input. [ErrRenegotiate] means the peer started
	// a new handshake that must be driven with Handshake.
	Recv(p []byte) (int, error)
	// Renegotiate starts a new handshake on an established session.
	Renegotiate() error

	State() State
	Close() error
}

type Backend interface {
	Name() string
	// Ciphers lists the cipher suites the backend can negotiate.
	Ciphers() []uint16
	NewSession(role Role) (Session, error)
}

var (
	registry   = make(map[string]Backend)
	registryMu sync.RWMutex
)

// Register makes a backend available by name. Registering a name twice panics.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[b.Name()]; ok {
		panic("engine: backend registered twice: " + b.Name())
	}
	registry[b.Name()] = b
}

func Lookup(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	b, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}
	return b, nil
}

// Backends returns the registered backends sorted by name.
func Backends() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Backend, 0, len(registry))
	for _, b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })

	return out
}
