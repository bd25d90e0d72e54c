package errmap

import (
	"io"
	"math/rand/v2"
	"secure-socket/session/ssl/engine"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	cases := []struct {
		name string
		code engine.Code
		want Status
	}{
		{"packed", engine.NewCode(engine.LibSSL, 1042), Start + 20*1200 + 1042},
		{"x509", engine.NewCode(engine.LibX509, 7), Start + 11*1200 + 7},
		{"reason over bound keeps reason", engine.NewCode(engine.LibSSL, 1300), Start + 1300},
		{"lib too large keeps reason", engine.NewCode(engine.Lib(60), 5), Start + 5},
		{"reason wraps", engine.NewCode(engine.Lib(60), 120000), Start + 20000},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Map(c.code))
		})
	}
}

func TestMapIsTotal(t *testing.T) {
	rnd := rand.New(rand.NewPCG(3, 4))
	for range 10000 {
		s := Map(engine.Code(rnd.Uint32()))
		require.True(t, s.InSpace(), "%d", int(s))
	}
}

func TestUnmap(t *testing.T) {
	code := engine.NewCode(engine.LibSSL, 1042)
	got, ok := Unmap(Map(code))
	assert.True(t, ok)
	assert.Equal(t, code, got)

	_, ok = Unmap(Status(12))
	assert.False(t, ok)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	code := engine.NewCode(engine.LibX509, 3)
	native := engine.NewError(code, io.ErrUnexpectedEOF)
	err := Wrap(errors.Wrap(native, "handshake"))

	assert.Equal(t, code, err.Native)
	assert.Equal(t, Map(code), err.Status)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "x509:3")
}
