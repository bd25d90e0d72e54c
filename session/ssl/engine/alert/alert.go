// Package alert names TLS alert descriptions and recognizes them in the
// error texts TLS engines produce.
package alert

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Level uint8

const (
	LevelWarning Level = 1
	LevelFatal   Level = 2
)

type Description uint8

const (
	CloseNotify                  Description = 0
	UnexpectedMessage            Description = 10
	BadRecordMAC                 Description = 20
	DecryptionFailed             Description = 21
	RecordOverflow               Description = 22
	HandshakeFailure             Description = 40
	BadCertificate               Description = 42
	UnsupportedCertificate       Description = 43
	CertificateRevoked           Description = 44
	CertificateExpired           Description = 45
	CertificateUnknown           Description = 46
	IllegalParameter             Description = 47
	UnknownCA                    Description = 48
	AccessDenied                 Description = 49
	DecodeError                  Description = 50
	DecryptError                 Description = 51
	ProtocolVersion              Description = 70
	InsufficientSecurity         Description = 71
	InternalError                Description = 80
	InappropriateFallback        Description = 86
	UserCanceled                 Description = 90
	NoRenegotiation              Description = 100
	MissingExtension             Description = 109
	UnsupportedExtension         Description = 110
	UnrecognizedName             Description = 112
	BadCertificateStatusResponse Description = 113
	UnknownPSKIdentity           Description = 115
	CertificateRequired          Description = 116
	NoApplicationProtocol        Description = 120
)

func (d Description) String() string {
	switch d {
	case CloseNotify:
		return "close_notify"
	case UnexpectedMessage:
		return "unexpected_message"
	case BadRecordMAC:
		return "bad_record_mac"
	case DecryptionFailed:
		return "decryption_failed"
	case RecordOverflow:
		return "record_overflow"
	case HandshakeFailure:
		return "handshake_failure"
	case BadCertificate:
		return "bad_certificate"
	case UnsupportedCertificate:
		return "unsupported_certificate"
	case CertificateRevoked:
		return "certificate_revoked"
	case CertificateExpired:
		return "certificate_expired"
	case CertificateUnknown:
		return "certificate_unknown"
	case IllegalParameter:
		return "illegal_parameter"
	case UnknownCA:
		return "unknown_ca"
	case AccessDenied:
		return "access_denied"
	case DecodeError:
		return "decode_error"
	case DecryptError:
		return "decrypt_error"
	case ProtocolVersion:
		return "protocol_version"
	case InsufficientSecurity:
		return "insufficient_security"
	case InternalError:
		return "internal_error"
	case InappropriateFallback:
		return "inappropriate_fallback"
	case UserCanceled:
		return "user_canceled"
	case NoRenegotiation:
		return "no_renegotiation"
	case MissingExtension:
		return "missing_extension"
	case UnsupportedExtension:
		return "unsupported_extension"
	case UnrecognizedName:
		return "unrecognized_name"
	case BadCertificateStatusResponse:
		return "bad_certificate_status_response"
	case UnknownPSKIdentity:
		return "unknown_psk_identity"
	case CertificateRequired:
		return "certificate_required"
	case NoApplicationProtocol:
		return "no_application_protocol"
	}

	return fmt.Sprintf("unknown: %d", d)
}

// Fatal reports whether the alert ends the connection. Only close_notify,
// user_canceled and no_renegotiation may be sent as warnings.
func (d Description) Fatal() bool {
	switch d {
	case CloseNotify, UserCanceled, NoRenegotiation:
		return false
	}
	return true
}

// Texts used by crypto/tls for alerts, which don't follow the RFC names.
var texts = map[string]Description{
	"close notify":                    CloseNotify,
	"unexpected message":              UnexpectedMessage,
	"bad record MAC":                  BadRecordMAC,
	"decryption failed":               DecryptionFailed,
	"record overflow":                 RecordOverflow,
	"handshake failure":               HandshakeFailure,
	"bad certificate":                 BadCertificate,
	"unsupported certificate":         UnsupportedCertificate,
	"revoked certificate":             CertificateRevoked,
	"expired certificate":             CertificateExpired,
	"unknown certificate":             CertificateUnknown,
	"illegal parameter":               IllegalParameter,
	"unknown certificate authority":   UnknownCA,
	"access denied":                   AccessDenied,
	"error decoding message":          DecodeError,
	"error decrypting message":        DecryptError,
	"protocol version not supported":  ProtocolVersion,
	"insufficient security level":     InsufficientSecurity,
	"internal error":                  InternalError,
	"inappropriate fallback":          InappropriateFallback,
	"user canceled":                   UserCanceled,
	"no renegotiation":                NoRenegotiation,
	"missing extension":               MissingExtension,
	"unsupported extension":           UnsupportedExtension,
	"unrecognized name":               UnrecognizedName,
	"bad certificate status response": BadCertificateStatusResponse,
	"unknown PSK identity":            UnknownPSKIdentity,
	"certificate required":            CertificateRequired,
	"no application protocol":         NoApplicationProtocol,
}

// ParseText recognizes an alert from its crypto/tls text or its RFC name.
func ParseText(text string) (Description, bool) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "tls: ")
	if d, ok := texts[text]; ok {
		return d, true
	}

	for d := range 256 {
		if desc := Description(d); desc.String() == text {
			return desc, true
		}
	}
	return 0, false
}

// Error is an alert that ended a handshake or a record exchange.
type Error struct {
	Description Description
	// Remote is set when the peer sent the alert.
	Remote bool
	cause  error
}

func NewError(cause error, desc Description, remote bool) Error {
	return Error{
		Description: desc,
		Remote:      remote,
		cause:       cause,
	}
}

func (e Error) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}

	msg := ""
	if e.cause != nil {
		msg = ", " + e.cause.Error()
	}

	return fmt.Sprintf("%s alert(%s)%s", side, e.Description.String(), msg)
}

func (e Error) Cause() error {
	return e.cause
}

func (e Error) Unwrap() error {
	return e.cause
}

func (e Error) Is(err error) bool {
	return errors.Is(e.cause, err)
}
