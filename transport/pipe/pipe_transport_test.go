package pipe

import (
	"context"
	"secure-socket/transport"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
)

type TransportTestSuite struct {
	suite.Suite

	transport *Transport
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (s *TransportTestSuite) SetupTest() {
	s.transport = NewTransport(clock.New(), 0)
}

func (s *TransportTestSuite) TestListen() {
	addr := Addr{Name: "hey"}

	lis, err := s.transport.Listen(addr)
	s.Require().NoError(err)
	s.Require().NotNil(lis)
	s.Equal(transport.Addr(addr), lis.Addr())

	got, ok := s.transport.listeners[addr]
	s.True(ok)
	s.Equal(lis, got)

	lis, err = s.transport.Listen(addr)
	s.ErrorIs(err, transport.ErrAddrAlreadyInUse)
	s.Nil(lis)
}

func (s *TransportTestSuite) TestDial() {
	addr := Addr{Name: "hey"}

	lis, err := s.transport.Listen(addr)
	s.Require().NoError(err)

	accepted := make(chan transport.Conn, 1)
	go func() {
		conn, err := lis.Accept(context.Background())
		s.NoError(err)
		accepted <- conn
	}()

	conn, err := s.transport.Dial(context.Background(), addr)
	s.Require().NoError(err)
	s.Require().NotNil(conn)

	s.Equal(transport.Addr(addr), conn.RemoteAddr())
	s.True(strings.HasPrefix(conn.LocalAddr().String(), "hey:"))
	s.Equal(1, s.transport.ports.InUse())

	peer := <-accepted
	s.Equal(conn.LocalAddr(), peer.RemoteAddr())

	s.NoError(conn.Close())
	s.NoError(peer.Close())
	s.Equal(0, s.transport.ports.InUse())
}

func (s *TransportTestSuite) TestDialUnknown() {
	_, err := s.transport.Dial(context.Background(), Addr{Name: "nobody"})
	s.ErrorIs(err, transport.ErrConnRefused)
	s.Equal(0, s.transport.ports.InUse())
}

func (s *TransportTestSuite) TestDialCancels() {
	_, err := s.transport.Listen(Addr{Name: "hey"})
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Nobody accepts.
	_, err = s.transport.Dial(ctx, Addr{Name: "hey"})
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(0, s.transport.ports.InUse())
}

type ListenerTestSuite struct {
	suite.Suite

	transport *Transport
	l         *listener
}

func TestListenerTestSuite(t *testing.T) {
	suite.Run(t, new(ListenerTestSuite))
}

func (s *ListenerTestSuite) SetupTest() {
	s.transport = NewTransport(clock.New(), 0)

	l, err := s.transport.Listen(Addr{Name: "hey"})
	s.Require().NoError(err)
	s.l = l
}

func (s *ListenerTestSuite) TestAccept() {
	_, p2 := NewPair("dialer", s.l.addr.Name, s.transport.clock, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)

		req := pipeRequest{conn: p2, accepted: make(chan struct{}, 1)}

		s.l.requests <- req

		_, ok := <-req.accepted
		s.True(ok)
	}()

	conn, err := s.l.Accept(context.Background())
	s.Equal(p2, conn)
	s.NoError(err)
	<-done
}

func (s *ListenerTestSuite) TestAcceptCancels() {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	conn, err := s.l.Accept(ctx)
	s.Nil(conn)
	s.ErrorIs(err, context.Canceled)
}

func (s *ListenerTestSuite) TestClose() {
	s.Require().NoError(s.l.Close())

	<-s.l.closed

	s.ErrorIs(s.l.Close(), transport.ErrConnListenerClosed)

	_, ok := s.transport.listeners[s.l.addr]
	s.False(ok)

	_, err := s.l.Accept(context.Background())
	s.ErrorIs(err, transport.ErrConnListenerClosed)

	_, err = s.transport.Dial(context.Background(), s.l.addr)
	s.ErrorIs(err, transport.ErrConnRefused)
}
