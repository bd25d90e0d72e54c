package ssl

import (
	"crypto/x509"
	"secure-socket/session/ssl/engine"
	"strings"

	"github.com/pkg/errors"
)

// VerifyStatus accumulates what went wrong verifying the peer certificate.
type VerifyStatus uint32

const (
	VerifyErrNoIssuerCert VerifyStatus = 1 << iota
	VerifyErrUntrusted
	VerifyErrValidityPeriod
	VerifyErrInvalidFormat
	VerifyErrInvalidPurpose
	VerifyErrIssuerMismatch
	VerifyErrCRLFailure
	VerifyErrRevoked
	VerifyErrChainTooLong

	VerifyErrIdentityNotMatch VerifyStatus = 1 << 30
	VerifyErrUnknown          VerifyStatus = 1 << 31

	VerifyOK VerifyStatus = 0
)

var verifyTexts = []struct {
	flag   VerifyStatus
	text   string
	// reason is the x509 library reason reported as the native error.
	reason uint32
}{
	{VerifyErrNoIssuerCert, "The issuer certificate cannot be found", 20},
	{VerifyErrUntrusted, "The certificate is untrusted", 27},
	{VerifyErrValidityPeriod, "The certificate has expired or not yet valid", 10},
	{VerifyErrInvalidFormat, "One or more fields of the certificate cannot be decoded due to invalid format", 13},
	{VerifyErrInvalidPurpose, "The certificate cannot be used for the specified purpose", 26},
	{VerifyErrIssuerMismatch, "The issuer info in the certificate does not match to the (candidate) issuer certificate", 29},
	{VerifyErrCRLFailure, "The CRL certificate cannot be found or cannot be read properly", 3},
	{VerifyErrRevoked, "The certificate has been revoked", 23},
	{VerifyErrChainTooLong, "The certificate chain length is too long", 22},
	{VerifyErrIdentityNotMatch, "The server identity does not match to any identities specified in the certificate", 62},
	{VerifyErrUnknown, "Unknown verification error", 1},
}

// Strings describes every flag set in v.
func (v VerifyStatus) Strings() []string {
	var out []string
	for _, t := range verifyTexts {
		if v&t.flag != 0 {
			out = append(out, t.text)
		}
	}
	return out
}

func (v VerifyStatus) String() string {
	if v == VerifyOK {
		return "OK"
	}
	return strings.Join(v.Strings(), "; ")
}

func (v VerifyStatus) code() engine.Code {
	for _, t := range verifyTexts {
		if v&t.flag != 0 {
			return engine.NewCode(engine.LibX509, t.reason)
		}
	}
	return engine.NewCode(engine.LibX509, 0)
}

var errVerify = errors.New("peer certificate verification failed")

// verifyPeer checks the chain against roots and, when serverName is set,
// the leaf's identity. Both are judged independently so the status tells
// them apart.
func verifyPeer(chain []*x509.Certificate, roots *x509.CertPool, serverName string) VerifyStatus {
	if len(chain) == 0 {
		return VerifyErrUnknown
	}

	leaf := chain[0]
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	var status VerifyStatus
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	status |= statusOf(err)

	if serverName != "" {
		if err := leaf.VerifyHostname(serverName); err != nil {
			status |= VerifyErrIdentityNotMatch
		}
	}

	return status
}

func statusOf(err error) VerifyStatus {
	if err == nil {
		return VerifyOK
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		invalid          x509.CertificateInvalidError
		hostname         x509.HostnameError
		insecure         x509.InsecureAlgorithmError
		systemRoots      x509.SystemRootsError
		constraint       x509.ConstraintViolationError
	)

	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &systemRoots):
		return VerifyErrNoIssuerCert
	case errors.As(err, &hostname):
		return VerifyErrIdentityNotMatch
	case errors.As(err, &insecure):
		return VerifyErrUntrusted
	case errors.As(err, &constraint):
		return VerifyErrInvalidPurpose
	case errors.As(err, &invalid):
		switch invalid.Reason {
		case x509.Expired:
			return VerifyErrValidityPeriod
		case x509.NotAuthorizedToSign, x509.CANotAuthorizedForThisName, x509.CANotAuthorizedForExtKeyUsage:
			return VerifyErrUntrusted
		case x509.IncompatibleUsage:
			return VerifyErrInvalidPurpose
		case x509.TooManyIntermediates, x509.TooManyConstraints:
			return VerifyErrChainTooLong
		case x509.NameMismatch:
			return VerifyErrIssuerMismatch
		}
	}

	return VerifyErrUnknown
}
