package ssl

import (
	"crypto/tls"
	"math/bits"
	"secure-socket/session/ssl/engine"
	"strings"

	"github.com/pkg/errors"
)

// Proto is a set of protocol versions.
type Proto uint32

const (
	ProtoSSL2 Proto = 1 << iota
	ProtoSSL3
	ProtoTLS1
	ProtoTLS11
	ProtoTLS12
	ProtoTLS13

	// ProtoDefault lets the socket pick, which is TLS 1.2 and 1.3.
	ProtoDefault Proto = 0
	ProtoSSL23         = ProtoSSL3 | ProtoTLS1 | ProtoTLS11 | ProtoTLS12 | ProtoTLS13
)

var protoNames = []struct {
	proto   Proto
	name    string
	version uint16
}{
	{ProtoSSL2, "ssl2", 0x0200},
	{ProtoSSL3, "ssl3", engine.VersionSSL30},
	{ProtoTLS1, "tls1", tls.VersionTLS10},
	{ProtoTLS11, "tls1.1", tls.VersionTLS11},
	{ProtoTLS12, "tls1.2", tls.VersionTLS12},
	{ProtoTLS13, "tls1.3", tls.VersionTLS13},
}

// ParseProto reads a version name such as "tls1.2".
func ParseProto(name string) (Proto, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range protoNames {
		if p.name == name {
			return p.proto, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidArgs, "unknown protocol %q", name)
}

// ProtoOf maps a negotiated version to its flag, or 0 when unknown.
func ProtoOf(version uint16) Proto {
	for _, p := range protoNames {
		if p.version == version {
			return p.proto
		}
	}
	return 0
}

func (p Proto) String() string {
	if p == ProtoDefault {
		return "default"
	}

	var names []string
	for _, pn := range protoNames {
		if p&pn.proto != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, "|")
}

// versions returns the version range p spans. SSL 2 is never negotiated,
// so a set holding nothing else isn't supported.
func (p Proto) versions() (lo, hi uint16, err error) {
	if p == ProtoDefault {
		return tls.VersionTLS12, tls.VersionTLS13, nil
	}

	p &^= ProtoSSL2
	if p == 0 || p > ProtoSSL23 {
		return 0, 0, errors.Wrapf(ErrNotSupported, "protocol %s", p)
	}

	lowest := bits.TrailingZeros32(uint32(p))
	highest := 31 - bits.LeadingZeros32(uint32(p))
	return protoNames[lowest].version, protoNames[highest].version, nil
}
