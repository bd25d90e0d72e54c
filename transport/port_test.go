package transport

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/suite"
)

type PortTableTestSuite struct {
	suite.Suite

	table *PortTable
}

func TestPortTableTestSuite(t *testing.T) {
	suite.Run(t, new(PortTableTestSuite))
}

func (s *PortTableTestSuite) SetupTest() {
	table, err := NewPortTable(EphemeralPortOptions{
		Range: [2]uint16{},
		Rand:  func() uint16 { return 0 },
	})
	s.Require().NoError(err)
	s.table = table
}

func (s *PortTableTestSuite) TestInvalidOptions() {
	_, err := NewPortTable(EphemeralPortOptions{Range: [2]uint16{2, 1}, Rand: func() uint16 { return 0 }})
	s.Error(err)

	_, err = NewPortTable(EphemeralPortOptions{})
	s.Error(err)
}

func (s *PortTableTestSuite) TestOccupy() {
	port := uint16(100)

	ok, result, release := s.table.Occupy(port)
	s.Require().True(ok)
	s.Require().Equal(port, result)
	s.Require().NotNil(release)

	ok, _, _release := s.table.Occupy(port)
	s.Require().False(ok)
	s.Require().Nil(_release)

	release()
	release()
	s.Equal(0, s.table.InUse())

	ok, result, release = s.table.Occupy(port)
	s.Require().True(ok)
	s.Require().Equal(port, result)
	s.Require().NotNil(release)
}

func (s *PortTableTestSuite) TestOccupyEphemeralEmptyRange() {
	ok, _, release := s.table.Occupy(0)
	s.False(ok)
	s.Nil(release)
}

func (s *PortTableTestSuite) TestOccupyEphemeral() {
	table, err := NewPortTable(EphemeralPortOptions{
		Range:  [2]uint16{1, 2}, // only result in 1
		Rand:   func() uint16 { return uint16(rand.Uint()) },
		MaxTry: 1,
	})
	s.Require().NoError(err)
	s.table = table

	ok, result, release := s.table.Occupy(0)
	s.Require().True(ok)
	s.Require().Equal(uint16(1), result)
	s.Require().NotNil(release)

	ok, _, _release := s.table.Occupy(0)
	s.Require().False(ok)
	s.Require().Nil(_release)

	release()

	ok, result, release = s.table.Occupy(0)
	s.Require().True(ok)
	s.Require().Equal(uint16(1), result)
	s.Require().NotNil(release)
}
