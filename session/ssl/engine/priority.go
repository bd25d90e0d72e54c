package engine

import (
	"crypto/tls"
	"strings"
)

// MaxPriorityLen bounds the rendered priority string.
const MaxPriorityLen = 1024

// VersionSSL30 is below what crypto/tls defines; policies may still name it.
const VersionSSL30 = 0x0300

type Priority struct {
	MinVersion uint16
	MaxVersion uint16
	// CipherSuites in preference order. Empty means the backend's default.
	CipherSuites []uint16
	// ServerPreference makes the server pick the cipher from its own order.
	ServerPreference bool
}

// Format renders the priority as a GnuTLS style priority string, which is
// also how it gets logged.
func (p Priority) Format() (string, error) {
	var b strings.Builder

	if len(p.CipherSuites) == 0 {
		switch {
		case p.MinVersion >= tls.VersionTLS10:
			b.WriteString("SECURE256:-VERS-SSL3.0")
		case p.MaxVersion <= VersionSSL30:
			b.WriteString("SECURE256")
		default:
			b.WriteString("NORMAL")
		}
	} else {
		b.WriteString("NONE")
	}

	appendOnce := func(entry string) error {
		if strings.Contains(b.String(), entry) {
			return nil
		}
		if b.Len()+len(entry)+3 > MaxPriorityLen {
			return ErrTooMany
		}
		b.WriteString(":+")
		b.WriteString(entry)
		return nil
	}

	for _, id := range p.CipherSuites {
		if err := appendOnce(tls.CipherSuiteName(id)); err != nil {
			return "", err
		}
	}
	if err := appendOnce("COMP-NULL"); err != nil {
		return "", err
	}

	if p.ServerPreference {
		const server = ":%SERVER_PRECEDENCE"
		if b.Len()+len(server)+1 > MaxPriorityLen {
			return "", ErrTooMany
		}
		b.WriteString(server)
	}

	return b.String(), nil
}

// Contains reports whether the version lies within the priority's range.
func (p Priority) Contains(version uint16) bool {
	return version >= p.MinVersion && (p.MaxVersion == 0 || version <= p.MaxVersion)
}
