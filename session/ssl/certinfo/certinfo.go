// Package certinfo flattens X.509 certificates into the descriptors a
// secure socket reports about itself and its peer.
package certinfo

import (
	"crypto/x509"
	"encoding/asn1"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// SerialLen is the size serial numbers are stored in. Longer ones are cut.
const SerialLen = 20

type AltNameType int

const (
	AltNameUnknown AltNameType = iota
	AltNameRFC822
	AltNameDNS
	AltNameURI
	AltNameIP
)

func (t AltNameType) String() string {
	switch t {
	case AltNameRFC822:
		return "rfc822"
	case AltNameDNS:
		return "dns"
	case AltNameURI:
		return "uri"
	case AltNameIP:
		return "ip"
	}
	return "unknown"
}

type AltName struct {
	Type AltNameType
	Name string
}

type Name struct {
	CommonName string
	// Info is the full distinguished name.
	Info string
}

type Validity struct {
	Start time.Time
	End   time.Time
}

type Info struct {
	Version  int
	SerialNo [SerialLen]byte
	Subject  Name
	Issuer   Name
	Validity Validity
	AltNames []AltName
}

// Empty reports whether the descriptor was never filled.
func (i *Info) Empty() bool {
	return i.Issuer.Info == "" && i.SerialNo == [SerialLen]byte{}
}

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// Extract fills info from cert unless info already describes a certificate
// with the same issuer and serial number. It reports whether info changed.
func Extract(cert *x509.Certificate, info *Info) bool {
	if cert == nil || info == nil {
		return false
	}

	issuer := cert.Issuer.String()
	serial := serialOf(cert)
	if !info.Empty() && info.Issuer.Info == issuer && info.SerialNo == serial {
		return false
	}

	subject := cert.Subject.String()
	*info = Info{
		Version:  cert.Version,
		SerialNo: serial,
		Issuer:   Name{CommonName: CommonName(issuer), Info: issuer},
		Subject:  Name{CommonName: CommonName(subject), Info: subject},
		Validity: Validity{Start: cert.NotBefore, End: cert.NotAfter},
	}

	if cert.Version >= 3 {
		for _, ext := range cert.Extensions {
			if !ext.Id.Equal(oidSubjectAltName) {
				continue
			}
			// A malformed extension keeps what was parsed before the damage.
			names, _ := ParseAltNames(ext.Value)
			info.AltNames = names
		}
	}

	return true
}

// CommonName returns the text after "CN=" up to the next comma, or an empty
// string when dn has no common name.
func CommonName(dn string) string {
	_, cn, ok := strings.Cut(dn, "CN=")
	if !ok {
		return ""
	}
	cn, _, _ = strings.Cut(cn, ",")
	return cn
}

func serialOf(cert *x509.Certificate) [SerialLen]byte {
	var out [SerialLen]byte
	if cert.SerialNumber != nil {
		copy(out[:], cert.SerialNumber.Bytes())
	}
	return out
}

var ErrMalformedAltNames = errors.New("malformed subject alternative name extension")

// ParseAltNames walks the GeneralNames of a subjectAltName extension value.
// Kinds other than email, DNS, URI and IP address are skipped.
func ParseAltNames(der []byte) ([]AltName, error) {
	input := cryptobyte.String(der)

	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, ErrMalformedAltNames
	}

	var names []AltName
	for !seq.Empty() {
		var value cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1(&value, &tag) {
			return names, ErrMalformedAltNames
		}

		name := AltName{Type: typeOf(tag)}
		switch name.Type {
		case AltNameRFC822, AltNameDNS, AltNameURI:
			name.Name = string(value)
		case AltNameIP:
			if len(value) != net.IPv4len && len(value) != net.IPv6len {
				continue
			}
			name.Name = net.IP(value).String()
		default:
			continue
		}

		if name.Name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

func typeOf(tag cbasn1.Tag) AltNameType {
	switch tag {
	case cbasn1.Tag(1).ContextSpecific():
		return AltNameRFC822
	case cbasn1.Tag(2).ContextSpecific():
		return AltNameDNS
	case cbasn1.Tag(6).ContextSpecific():
		return AltNameURI
	case cbasn1.Tag(7).ContextSpecific():
		return AltNameIP
	}
	return AltNameUnknown
}
