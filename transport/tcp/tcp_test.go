package tcp

import (
	"context"
	"io"
	"net"
	"secure-socket/transport"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type TCPTestSuite struct {
	suite.Suite

	l *listener
}

func TestTCPTestSuite(t *testing.T) {
	suite.Run(t, new(TCPTestSuite))
}

func (s *TCPTestSuite) SetupTest() {
	l, err := Listen(context.Background(), "127.0.0.1:0", Options{ReuseAddr: true})
	s.Require().NoError(err)
	s.l = l
}

func (s *TCPTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())
	s.l.Close()
}

func (s *TCPTestSuite) pair() (client, server transport.Conn) {
	accepted := make(chan transport.Conn, 1)
	go func() {
		conn, err := s.l.Accept(context.Background())
		s.NoError(err)
		accepted <- conn
	}()

	d := &Dialer{Timeout: time.Second}
	client, err := d.Dial(context.Background(), s.l.Addr())
	s.Require().NoError(err)

	server = <-accepted
	s.Require().NotNil(server)
	return client, server
}

func (s *TCPTestSuite) TestEcho() {
	client, server := s.pair()
	defer client.Close()
	defer server.Close()

	s.Equal(client.LocalAddr().String(), server.RemoteAddr().String())

	data := []byte("hello, tcp")
	n, err := client.Write(data)
	s.Require().NoError(err)
	s.Equal(len(data), n)

	got := make([]byte, len(data))
	_, err = io.ReadFull(server, got)
	s.Require().NoError(err)
	s.Equal(data, got)
}

func (s *TCPTestSuite) TestPeerClose() {
	client, server := s.pair()
	defer server.Close()

	s.Require().NoError(client.Close())
	s.NoError(client.Close())

	_, err := server.Read(make([]byte, 1))
	s.ErrorIs(err, transport.ErrConnClosed)

	_, err = server.Write([]byte("x"))
	s.ErrorIs(err, transport.ErrConnClosed)
}

func (s *TCPTestSuite) TestReadDeadLine() {
	client, server := s.pair()
	defer client.Close()
	defer server.Close()

	server.SetReadDeadLine(time.Now().Add(20 * time.Millisecond))
	_, err := server.Read(make([]byte, 1))
	s.ErrorIs(err, transport.ErrDeadLineExceeded)
}

func (s *TCPTestSuite) TestAcceptCancels() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.l.Accept(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *TCPTestSuite) TestDialRefused() {
	// Grab a free port and release it again.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	addr := l.Addr()
	s.Require().NoError(l.Close())

	d := &Dialer{Timeout: time.Second}
	_, err = d.Dial(context.Background(), addr)
	s.ErrorIs(err, transport.ErrConnRefused)
}

func (s *TCPTestSuite) TestResolveAddr() {
	addr, err := ResolveAddr("127.0.0.1:443")
	s.Require().NoError(err)
	s.Equal("tcp", addr.Network())
	s.Equal("127.0.0.1:443", addr.String())

	_, err = ResolveAddr("not an address")
	s.Error(err)
}
