package gotls

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"io"
	"secure-socket/lib/certgen"
	"secure-socket/session/ssl/engine"
	"secure-socket/session/ssl/engine/alert"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func pullFrom(b *bytes.Buffer) engine.PullFunc {
	return func(p []byte) (int, error) {
		if b.Len() == 0 {
			return 0, engine.ErrWouldBlock
		}
		return b.Read(p)
	}
}

type GoTLSTestSuite struct {
	suite.Suite

	cert *certgen.Pair

	toClient, toServer *bytes.Buffer
	client, server     engine.Session
}

func TestGoTLSTestSuite(t *testing.T) {
	suite.Run(t, new(GoTLSTestSuite))
}

func (s *GoTLSTestSuite) SetupSuite() {
	cert, err := certgen.SelfSigned("server", "server.test")
	s.Require().NoError(err)
	s.cert = cert
}

func (s *GoTLSTestSuite) SetupTest() {
	b, err := engine.Lookup(Name)
	s.Require().NoError(err)

	s.toClient, s.toServer = new(bytes.Buffer), new(bytes.Buffer)

	s.client, err = b.NewSession(engine.RoleClient)
	s.Require().NoError(err)
	s.client.SetTransport(s.toServer.Write, pullFrom(s.toClient))
	s.Require().NoError(s.client.SetServerName("server.test"))

	s.server, err = b.NewSession(engine.RoleServer)
	s.Require().NoError(err)
	s.server.SetTransport(s.toClient.Write, pullFrom(s.toServer))
	s.Require().NoError(s.server.SetCredentials(engine.Credentials{
		Chain:      []*x509.Certificate{s.cert.Cert},
		PrivateKey: s.cert.Key,
	}))
}

func (s *GoTLSTestSuite) TearDownTest() {
	s.NoError(s.client.Close())
	s.NoError(s.server.Close())
	goleak.VerifyNone(s.T())
}

// handshake steps both sides until neither would block anymore.
func (s *GoTLSTestSuite) handshake() (clientErr, serverErr error) {
	for range 20 {
		clientErr = s.client.Handshake()
		serverErr = s.server.Handshake()

		clientBlocked := errors.Is(clientErr, engine.ErrWouldBlock)
		serverBlocked := errors.Is(serverErr, engine.ErrWouldBlock)
		if !clientBlocked && !serverBlocked {
			return clientErr, serverErr
		}
		if clientBlocked && serverBlocked && s.toClient.Len() == 0 && s.toServer.Len() == 0 {
			break
		}
	}
	s.FailNow("handshake stalled")
	return nil, nil
}

func (s *GoTLSTestSuite) TestFirstStepWouldBlock() {
	s.ErrorIs(s.client.Handshake(), engine.ErrWouldBlock)
	s.Positive(s.toServer.Len(), "client hello pushed")
}

func (s *GoTLSTestSuite) TestHandshakeAndData() {
	var verified engine.State
	s.client.SetVerifier(func(st engine.State) error {
		verified = st
		return nil
	})

	clientErr, serverErr := s.handshake()
	s.Require().NoError(clientErr)
	s.Require().NoError(serverErr)

	s.Require().Len(verified.PeerCertificates, 1)
	s.Equal(s.cert.Cert.Raw, verified.PeerCertificates[0].Raw)

	cs := s.client.State()
	s.True(cs.HandshakeComplete)
	s.Equal(uint16(tls.VersionTLS13), cs.Version)
	s.Equal(s.cert.Cert, s.server.State().LocalCertificate)

	n, err := s.client.Send([]byte("0123456789"))
	s.Require().NoError(err)
	s.Equal(10, n)

	// Small reads drain what the engine decrypted before pulling again.
	var got []byte
	buf := make([]byte, 3)
	for len(got) < 10 {
		n, err := s.server.Recv(buf)
		s.Require().NoError(err)
		got = append(got, buf[:n]...)
	}
	s.Equal("0123456789", string(got))

	_, err = s.server.Recv(buf)
	s.ErrorIs(err, engine.ErrWouldBlock)
}

func (s *GoTLSTestSuite) TestPriority() {
	s.Require().NoError(s.client.SetPriority(engine.Priority{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256},
	}))

	clientErr, serverErr := s.handshake()
	s.Require().NoError(clientErr)
	s.Require().NoError(serverErr)

	st := s.server.State()
	s.Equal(uint16(tls.VersionTLS12), st.Version)
	s.Equal(tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, st.CipherSuite)
}

func (s *GoTLSTestSuite) TestPriorityNotSupported() {
	err := s.client.SetPriority(engine.Priority{MinVersion: engine.VersionSSL30, MaxVersion: engine.VersionSSL30})
	s.ErrorIs(err, engine.ErrNotSupported)

	err = s.client.SetPriority(engine.Priority{CipherSuites: []uint16{0xFFFF}})
	s.ErrorIs(err, engine.ErrNotSupported)
}

func (s *GoTLSTestSuite) TestVerifierRejects() {
	rejected := engine.NewError(engine.NewCode(engine.LibX509, 62), errors.New("hostname mismatch"))
	s.client.SetVerifier(func(engine.State) error { return rejected })

	clientErr, serverErr := s.handshake()
	s.ErrorIs(clientErr, rejected)
	s.Equal(engine.NewCode(engine.LibX509, 62), engine.CodeOf(clientErr))

	s.Require().Error(serverErr)
	var alertErr alert.Error
	s.Require().ErrorAs(serverErr, &alertErr)
	s.Equal(alert.BadCertificate, alertErr.Description)
	s.True(alertErr.Remote)
	s.Equal(engine.NewCode(engine.LibSSL, engine.ReasonAlert+uint32(alert.BadCertificate)), engine.CodeOf(serverErr))
}

func (s *GoTLSTestSuite) TestCloseNotifyIsEOF() {
	clientErr, serverErr := s.handshake()
	s.Require().NoError(clientErr)
	s.Require().NoError(serverErr)

	s.NoError(s.client.Close())
	s.Positive(s.toServer.Len(), "close_notify pushed")

	_, err := s.server.Recv(make([]byte, 16))
	s.ErrorIs(err, io.EOF)
	s.Equal(engine.LibSys, engine.CodeOf(err).Lib())
}

func (s *GoTLSTestSuite) TestCloseWhileParked() {
	s.ErrorIs(s.client.Handshake(), engine.ErrWouldBlock)
	s.NoError(s.client.Close())

	s.ErrorIs(s.client.Handshake(), engine.ErrClosed)
	_, err := s.client.Send([]byte("x"))
	s.ErrorIs(err, engine.ErrClosed)
}

func (s *GoTLSTestSuite) TestRenegotiateNotSupported() {
	s.ErrorIs(s.client.Renegotiate(), engine.ErrNotSupported)
}

func TestCiphers(t *testing.T) {
	ids := backend{}.Ciphers()
	found := false
	for _, id := range ids {
		if id == tls.TLS_AES_128_GCM_SHA256 {
			found = true
		}
	}
	if !found {
		t.Fatal("TLS 1.3 suites missing")
	}
}
