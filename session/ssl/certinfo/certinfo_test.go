package certinfo

import (
	"math/big"
	"net"
	"net/url"
	"secure-socket/lib/certgen"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

func TestExtract(t *testing.T) {
	ca, err := certgen.CA("Test Root")
	require.NoError(t, err)

	uri, _ := url.Parse("sip:alice@example.test")
	leaf, err := certgen.Leaf(ca, certgen.Options{
		CommonName: "example.test",
		DNSNames:   []string{"example.test", "www.example.test"},
		IPs:        []net.IP{net.ParseIP("192.0.2.1"), net.ParseIP("2001:db8::1")},
		Emails:     []string{"alice@example.test"},
		URIs:       []*url.URL{uri},
		Serial:     big.NewInt(0x0102),
	})
	require.NoError(t, err)

	var info Info
	require.True(t, Extract(leaf.Cert, &info))

	assert.Equal(t, 3, info.Version)
	assert.Equal(t, "Test Root", info.Issuer.CommonName)
	assert.Equal(t, "example.test", info.Subject.CommonName)
	assert.Contains(t, info.Subject.Info, "O=secure-socket")
	assert.Equal(t, [SerialLen]byte{0x01, 0x02}, info.SerialNo)
	assert.Equal(t, leaf.Cert.NotAfter, info.Validity.End)

	assert.ElementsMatch(t, []AltName{
		{Type: AltNameDNS, Name: "example.test"},
		{Type: AltNameDNS, Name: "www.example.test"},
		{Type: AltNameIP, Name: "192.0.2.1"},
		{Type: AltNameIP, Name: "2001:db8::1"},
		{Type: AltNameRFC822, Name: "alice@example.test"},
		{Type: AltNameURI, Name: "sip:alice@example.test"},
	}, info.AltNames)
}

func TestExtractSkipsSameCertificate(t *testing.T) {
	leaf, err := certgen.SelfSigned("peer", "peer.test")
	require.NoError(t, err)

	var info Info
	require.True(t, Extract(leaf.Cert, &info))

	// A marker proves the cache is left alone.
	info.Subject.CommonName = "cached"
	assert.False(t, Extract(leaf.Cert, &info))
	assert.Equal(t, "cached", info.Subject.CommonName)

	other, err := certgen.SelfSigned("other", "other.test")
	require.NoError(t, err)
	assert.True(t, Extract(other.Cert, &info))
	assert.Equal(t, "other", info.Subject.CommonName)
}

func TestExtractNil(t *testing.T) {
	var info Info
	assert.False(t, Extract(nil, &info))
	assert.True(t, info.Empty())
}

func TestCommonName(t *testing.T) {
	cases := map[string]string{
		"CN=foo,O=bar":       "foo",
		"O=bar,CN=baz":       "baz",
		"CN=only":            "only",
		"O=bar,OU=none":      "",
		"":                   "",
		"CN=,O=empty common": "",
	}

	for dn, want := range cases {
		assert.Equal(t, want, CommonName(dn), dn)
	}
}

func TestParseAltNamesSkipsUnknownKinds(t *testing.T) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		// otherName, constructed [0]
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier([]int{1, 2, 3})
		})
		b.AddASN1(cbasn1.Tag(2).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte("a.test"))
		})
		// registeredID [8]
		b.AddASN1(cbasn1.Tag(8).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{0x2a})
		})
		// IP of a bogus length
		b.AddASN1(cbasn1.Tag(7).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{1, 2, 3})
		})
		b.AddASN1(cbasn1.Tag(7).ContextSpecific(), func(b *cryptobyte.Builder) {
			b.AddBytes([]byte{10, 0, 0, 1})
		})
	})
	der, err := b.Bytes()
	require.NoError(t, err)

	names, err := ParseAltNames(der)
	require.NoError(t, err)
	assert.Equal(t, []AltName{
		{Type: AltNameDNS, Name: "a.test"},
		{Type: AltNameIP, Name: "10.0.0.1"},
	}, names)
}

func TestParseAltNamesMalformed(t *testing.T) {
	_, err := ParseAltNames([]byte{0x30, 0x05, 0x82})
	assert.ErrorIs(t, err, ErrMalformedAltNames)
}
