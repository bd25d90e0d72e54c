package ssl

import (
	"secure-socket/session/ssl/cipher"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/engine/gotls"
	"secure-socket/transport"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/idna"

	// Registers the mint backend.
	_ "secure-socket/session/ssl/engine/minttls"
)

const (
	DefaultReadBufferSize = 1500
	DefaultSendBufferSize = 8000
)

type Callbacks struct {
	// OnConnectComplete reports the outcome of StartConnect, after the
	// handshake when it succeeded.
	OnConnectComplete func(s *Sock, err error) Result
	// OnAcceptComplete reports a child whose handshake succeeded. Children
	// failing their handshake are destroyed without notice.
	OnAcceptComplete func(parent, child *Sock, remote transport.Addr) Result
	// OnDataRead reports decrypted data. data is only valid during the call.
	// A non-nil err ends the connection, [ErrEOF] when the peer closed it.
	OnDataRead func(s *Sock, data []byte, err error) Result
	// OnDataSent reports the plaintext length of the Send call token belongs to.
	OnDataSent func(s *Sock, token any, sent int, err error) Result
}

type Param struct {
	// Engine names the TLS backend. Defaults to crypto/tls.
	Engine  string
	Proto   Proto
	Ciphers []cipher.Suite

	// VerifyPeer fails the handshake when the peer certificate doesn't
	// verify. On servers it also asks clients for a certificate.
	VerifyPeer        bool
	RequireClientCert bool

	// HandshakeTimeout of zero disables the timer.
	HandshakeTimeout time.Duration
	// ReadBufferSize is rounded up to a multiple of 8.
	ReadBufferSize int
	SendBufferSize int
	// Concurrency is the number of reads kept in flight.
	Concurrency int
	// ServerName is sent as SNI and checked against the server certificate.
	// Internationalized names are converted to their ASCII form.
	ServerName string

	Callbacks Callbacks
	UserData  any

	Clock  clock.Clock
	Logger *zap.Logger
}

func DefaultParam() Param {
	return Param{
		Engine:         gotls.Name,
		Proto:          ProtoDefault,
		ReadBufferSize: DefaultReadBufferSize,
		SendBufferSize: DefaultSendBufferSize,
		Concurrency:    1,
	}
}

// normalize validates p and fills in defaults.
func (p Param) normalize() (Param, error) {
	if p.Engine == "" {
		p.Engine = gotls.Name
	}
	if p.ReadBufferSize == 0 {
		p.ReadBufferSize = DefaultReadBufferSize
	}
	if p.SendBufferSize == 0 {
		p.SendBufferSize = DefaultSendBufferSize
	}
	if p.Concurrency == 0 {
		p.Concurrency = 1
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	switch {
	case p.ReadBufferSize < 0, p.SendBufferSize < 0, p.Concurrency < 0, p.HandshakeTimeout < 0:
		return p, errors.Wrap(ErrInvalidArgs, "negative size or timeout")
	}
	p.ReadBufferSize = (p.ReadBufferSize + 7) &^ 7

	if p.ServerName != "" {
		name, err := idna.Lookup.ToASCII(p.ServerName)
		if err != nil {
			return p, errors.Wrapf(ErrInvalidArgs, "server name %q: %v", p.ServerName, err)
		}
		p.ServerName = name
	}

	if _, err := engine.Lookup(p.Engine); err != nil {
		return p, errors.Wrap(ErrNotSupported, err.Error())
	}
	for _, c := range p.Ciphers {
		if !cipher.SupportedBy(c, p.Engine) {
			return p, errors.Wrapf(ErrNotSupported, "cipher %s with engine %s", c, p.Engine)
		}
	}
	if _, err := p.priority(engine.RoleServer); err != nil {
		return p, err
	}

	return p, nil
}

// priority builds what the engine session negotiates with.
func (p Param) priority(role engine.Role) (engine.Priority, error) {
	lo, hi, err := p.Proto.versions()
	if err != nil {
		return engine.Priority{}, err
	}

	prio := engine.Priority{
		MinVersion:       lo,
		MaxVersion:       hi,
		ServerPreference: role == engine.RoleServer,
	}
	for _, c := range p.Ciphers {
		prio.CipherSuites = append(prio.CipherSuites, uint16(c))
	}

	if _, err := prio.Format(); err != nil {
		if errors.Is(err, engine.ErrTooMany) {
			return prio, errors.Wrapf(ErrTooMany, "%d ciphers", len(p.Ciphers))
		}
		return prio, err
	}

	return prio, nil
}

func (p Param) clientAuth() engine.ClientAuth {
	switch {
	case p.RequireClientCert:
		return engine.RequireClientCert
	case p.VerifyPeer:
		return engine.RequestClientCert
	}
	return engine.NoClientCert
}
