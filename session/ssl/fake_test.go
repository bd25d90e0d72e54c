package ssl

import (
	"bytes"
	"crypto/tls"
	"secure-socket/session/ssl/engine"
	"secure-socket/transport"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

const (
	fakeName = "fake"
	mockName = "mock"
)

var (
	fakes = &fakeBackend{sessions: make(chan *fakeSession, 16)}
	mocks = &mockBackend{}
)

func init() {
	engine.Register(fakes)
	engine.Register(mocks)
}

type fakeBackend struct {
	sessions chan *fakeSession
}

func (b *fakeBackend) Name() string { return fakeName }

func (b *fakeBackend) Ciphers() []uint16 { return nil }

func (b *fakeBackend) NewSession(role engine.Role) (engine.Session, error) {
	f := &fakeSession{role: role}
	select {
	case b.sessions <- f:
	default:
	}
	return f, nil
}

// fakeSession passes data through as is. Handshake and Renegotiate return
// what the test scripted, nil by default.
type fakeSession struct {
	role engine.Role

	mu           sync.Mutex
	push         engine.PushFunc
	pull         engine.PullFunc
	handshakeErr error
	renegErr     error
	// renegOut is pushed by Renegotiate, like a key update.
	renegOut []byte
	closed   bool
}

func (f *fakeSession) script(handshakeErr, renegErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshakeErr, f.renegErr = handshakeErr, renegErr
}

func (f *fakeSession) SetTransport(push engine.PushFunc, pull engine.PullFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.push, f.pull = push, pull
}

func (f *fakeSession) SetPriority(engine.Priority) error { return nil }

func (f *fakeSession) SetCredentials(engine.Credentials) error { return nil }

func (f *fakeSession) SetServerName(string) error { return nil }

func (f *fakeSession) SetClientAuth(engine.ClientAuth) error { return nil }

func (f *fakeSession) SetVerifier(engine.Verifier) {}

func (f *fakeSession) Handshake() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakeErr
}

func (f *fakeSession) Send(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.push(p)
}

func (f *fakeSession) Recv(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pull(p)
}

func (f *fakeSession) onRenegotiate(out []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renegOut = out
}

func (f *fakeSession) Renegotiate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.renegOut) > 0 {
		if _, err := f.push(f.renegOut); err != nil {
			return err
		}
	}
	return f.renegErr
}

func (f *fakeSession) State() engine.State {
	return engine.State{
		HandshakeComplete: true,
		Version:           tls.VersionTLS13,
		CipherSuite:       tls.TLS_AES_128_GCM_SHA256,
	}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type mockBackend struct {
	mu   sync.Mutex
	next *mockSession
}

func (b *mockBackend) set(m *mockSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = m
}

func (b *mockBackend) Name() string { return mockName }

func (b *mockBackend) Ciphers() []uint16 {
	return []uint16{tls.TLS_AES_128_GCM_SHA256}
}

func (b *mockBackend) NewSession(engine.Role) (engine.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next, nil
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) SetTransport(engine.PushFunc, engine.PullFunc) { m.Called() }

func (m *mockSession) SetPriority(p engine.Priority) error {
	return m.Called(p).Error(0)
}

func (m *mockSession) SetCredentials(c engine.Credentials) error {
	return m.Called(c).Error(0)
}

func (m *mockSession) SetServerName(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockSession) SetClientAuth(mode engine.ClientAuth) error {
	return m.Called(mode).Error(0)
}

func (m *mockSession) SetVerifier(engine.Verifier) { m.Called() }

func (m *mockSession) Handshake() error {
	return m.Called().Error(0)
}

func (m *mockSession) Send(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockSession) Recv(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockSession) Renegotiate() error {
	return m.Called().Error(0)
}

func (m *mockSession) State() engine.State {
	return m.Called().Get(0).(engine.State)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

type readEvent struct {
	data []byte
	err  error
}

type sentEvent struct {
	token any
	sent  int
	err   error
}

// events records callbacks.
type events struct {
	connected chan error
	accepted  chan *Sock
	read      chan readEvent
	sent      chan sentEvent
}

func newEvents() *events {
	return &events{
		connected: make(chan error, 64),
		accepted:  make(chan *Sock, 64),
		read:      make(chan readEvent, 64),
		sent:      make(chan sentEvent, 64),
	}
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnConnectComplete: func(_ *Sock, err error) Result {
			e.connected <- err
			return Continue
		},
		OnAcceptComplete: func(_, child *Sock, _ transport.Addr) Result {
			e.accepted <- child
			return Continue
		},
		OnDataRead: func(_ *Sock, data []byte, err error) Result {
			e.read <- readEvent{data: bytes.Clone(data), err: err}
			return Continue
		},
		OnDataSent: func(_ *Sock, token any, sent int, err error) Result {
			e.sent <- sentEvent{token: token, sent: sent, err: err}
			return Continue
		},
	}
}

const eventTimeout = 2 * time.Second
