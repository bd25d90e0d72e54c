package ssl

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"secure-socket/session/ssl/engine"

	"github.com/pkg/errors"
)

// Cert holds the local credentials and the trust anchors used to verify peers.
type Cert struct {
	Chain   []*x509.Certificate
	Key     crypto.PrivateKey
	RootCAs *x509.CertPool
}

func NewCert(chain []*x509.Certificate, key crypto.PrivateKey, rootCAs *x509.CertPool) (*Cert, error) {
	if len(chain) > 0 && key == nil {
		return nil, errors.Wrap(ErrInvalidArgs, "certificate without private key")
	}
	return &Cert{Chain: chain, Key: key, RootCAs: rootCAs}, nil
}

// LoadCert parses PEM blocks. Any of them may be empty: a client without
// certificate only needs caPEM.
func LoadCert(certPEM, keyPEM, caPEM []byte) (*Cert, error) {
	c := &Cert{}

	if len(certPEM) > 0 || len(keyPEM) > 0 {
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, errors.Wrap(err, "loading key pair")
		}
		for _, der := range pair.Certificate {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, errors.Wrap(err, "parsing certificate")
			}
			c.Chain = append(c.Chain, cert)
		}
		c.Key = pair.PrivateKey
	}

	if len(caPEM) > 0 {
		c.RootCAs = x509.NewCertPool()
		if !c.RootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.Wrap(ErrInvalidArgs, "no CA certificate found")
		}
	}

	return c, nil
}

func (c *Cert) credentials() engine.Credentials {
	if c == nil {
		return engine.Credentials{}
	}
	return engine.Credentials{Chain: c.Chain, PrivateKey: c.Key, RootCAs: c.RootCAs}
}
