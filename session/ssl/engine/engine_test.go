package engine

import (
	"crypto/tls"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopBackend struct{ name string }

func (b nopBackend) Name() string { return b.name }

func (b nopBackend) Ciphers() []uint16 { return nil }

func (b nopBackend) NewSession(Role) (Session, error) { return nil, ErrNotSupported }

func TestRegistry(t *testing.T) {
	Register(nopBackend{name: "zz-test-b"})
	Register(nopBackend{name: "zz-test-a"})

	b, err := Lookup("zz-test-a")
	require.NoError(t, err)
	assert.Equal(t, "zz-test-a", b.Name())

	_, err = Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownBackend)

	assert.Panics(t, func() { Register(nopBackend{name: "zz-test-a"}) })

	var names []string
	for _, b := range Backends() {
		names = append(names, b.Name())
	}
	assert.Subset(t, names, []string{"zz-test-a", "zz-test-b"})
	assert.IsIncreasing(t, names)
}

func TestCode(t *testing.T) {
	c := NewCode(LibX509, 42)
	assert.Equal(t, LibX509, c.Lib())
	assert.Equal(t, uint32(42), c.Reason())
	assert.Equal(t, "x509:42", c.String())

	err := errors.Wrap(NewError(c, io.EOF), "handshake")
	assert.Equal(t, c, CodeOf(err))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, NewCode(LibSSL, 1), CodeOf(io.EOF))
}

func TestPriorityFormat(t *testing.T) {
	cases := []struct {
		name string
		p    Priority
		want string
	}{
		{
			name: "tls default",
			p:    Priority{MinVersion: tls.VersionTLS12, MaxVersion: tls.VersionTLS13},
			want: "SECURE256:-VERS-SSL3.0:+COMP-NULL",
		},
		{
			name: "ssl3 only",
			p:    Priority{MinVersion: VersionSSL30, MaxVersion: VersionSSL30},
			want: "SECURE256:+COMP-NULL",
		},
		{
			name: "ssl3 and up",
			p:    Priority{MinVersion: VersionSSL30, MaxVersion: tls.VersionTLS13},
			want: "NORMAL:+COMP-NULL",
		},
		{
			name: "ciphers with server preference",
			p: Priority{
				MinVersion:       tls.VersionTLS12,
				CipherSuites:     []uint16{tls.TLS_AES_128_GCM_SHA256, tls.TLS_AES_128_GCM_SHA256},
				ServerPreference: true,
			},
			want: "NONE:+TLS_AES_128_GCM_SHA256:+COMP-NULL:%SERVER_PRECEDENCE",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.p.Format()
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestPriorityFormatTooMany(t *testing.T) {
	// Unknown ids render as distinct 0x hex names, each 8 bytes plus separator.
	var ids []uint16
	for i := range 200 {
		ids = append(ids, uint16(0xF000+i))
	}

	_, err := Priority{CipherSuites: ids}.Format()
	assert.ErrorIs(t, err, ErrTooMany)

	s, err := Priority{CipherSuites: ids[:50]}.Format()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s, "NONE:+0xF000"))
	assert.LessOrEqual(t, len(s), MaxPriorityLen)
}

func TestPriorityContains(t *testing.T) {
	p := Priority{MinVersion: tls.VersionTLS12, MaxVersion: tls.VersionTLS12}
	assert.True(t, p.Contains(tls.VersionTLS12))
	assert.False(t, p.Contains(tls.VersionTLS13))

	assert.True(t, Priority{MinVersion: tls.VersionTLS12}.Contains(tls.VersionTLS13))
}
