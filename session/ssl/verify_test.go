package ssl

import (
	"crypto/x509"
	"secure-socket/lib/certgen"
	"secure-socket/session/ssl/engine"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyStatusStrings(t *testing.T) {
	assert.Empty(t, VerifyOK.Strings())
	assert.Equal(t, "OK", VerifyOK.String())

	v := VerifyErrUntrusted | VerifyErrIdentityNotMatch
	assert.Equal(t, []string{
		"The certificate is untrusted",
		"The server identity does not match to any identities specified in the certificate",
	}, v.Strings())

	assert.Equal(t, engine.NewCode(engine.LibX509, 27), v.code())
	assert.Equal(t, engine.NewCode(engine.LibX509, 62), VerifyErrIdentityNotMatch.code())
}

func TestVerifyPeer(t *testing.T) {
	ca, err := certgen.CA("ca")
	require.NoError(t, err)
	leaf, err := certgen.Leaf(ca, certgen.Options{CommonName: "srv", DNSNames: []string{"srv.example"}})
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	expired, err := certgen.Leaf(ca, certgen.Options{CommonName: "old", NotBefore: past, NotAfter: past.Add(time.Hour)})
	require.NoError(t, err)

	self, err := certgen.SelfSigned("self", "srv.example")
	require.NoError(t, err)

	chain := []*x509.Certificate{leaf.Cert}

	cases := []struct {
		name  string
		chain []*x509.Certificate
		roots *x509.CertPool
		host  string
		want  VerifyStatus
	}{
		{"trusted", chain, ca.Pool(), "srv.example", VerifyOK},
		{"no host check", chain, ca.Pool(), "", VerifyOK},
		{"wrong host", chain, ca.Pool(), "other.example", VerifyErrIdentityNotMatch},
		{"unknown issuer", []*x509.Certificate{self.Cert}, ca.Pool(), "srv.example", VerifyErrNoIssuerCert},
		{"unknown issuer and host", []*x509.Certificate{self.Cert}, ca.Pool(), "x.example", VerifyErrNoIssuerCert | VerifyErrIdentityNotMatch},
		{"expired", []*x509.Certificate{expired.Cert}, ca.Pool(), "", VerifyErrValidityPeriod},
		{"no certificate", nil, ca.Pool(), "", VerifyErrUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, verifyPeer(tc.chain, tc.roots, tc.host))
		})
	}
}
