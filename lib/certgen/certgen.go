// Package certgen issues throwaway ECDSA certificates for test peers and
// for servers started without certificate files.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

type Options struct {
	CommonName string
	DNSNames   []string
	IPs        []net.IP
	Emails     []string
	URIs       []*url.URL

	// Serial defaults to a random 128 bit number.
	Serial    *big.Int
	NotBefore time.Time
	// NotAfter defaults to a day after NotBefore.
	NotAfter time.Time
}

type Pair struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// CA creates a self-signed certificate authority.
func CA(cn string) (*Pair, error) {
	return issue(nil, Options{CommonName: cn}, true)
}

// Leaf issues a server and client certificate signed by ca. A nil ca makes
// it self-signed.
func Leaf(ca *Pair, opts Options) (*Pair, error) {
	return issue(ca, opts, false)
}

// SelfSigned is a leaf for the given hosts, which may be names or addresses.
func SelfSigned(cn string, hosts ...string) (*Pair, error) {
	opts := Options{CommonName: cn}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			opts.IPs = append(opts.IPs, ip)
		} else {
			opts.DNSNames = append(opts.DNSNames, h)
		}
	}
	return Leaf(nil, opts)
}

func issue(ca *Pair, opts Options, isCA bool) (*Pair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}

	serial := opts.Serial
	if serial == nil {
		serial, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
		if err != nil {
			return nil, errors.Wrap(err, "generating serial")
		}
	}

	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	notAfter := opts.NotAfter
	if notAfter.IsZero() {
		notAfter = notBefore.Add(25 * time.Hour)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName, Organization: []string{"secure-socket"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		DNSNames:              opts.DNSNames,
		IPAddresses:           opts.IPs,
		EmailAddresses:        opts.Emails,
		URIs:                  opts.URIs,
		BasicConstraintsValid: true,
	}

	if isCA {
		tmpl.IsCA = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}

	parent, signer := tmpl, key
	if ca != nil {
		parent, signer = ca.Cert, ca.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate")
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing certificate")
	}

	return &Pair{Cert: cert, Key: key}, nil
}

// Pool returns a pool trusting the pair's certificate.
func (p *Pair) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.Cert)
	return pool
}

// PEM encodes the certificate and the private key.
func (p *Pair) PEM() (cert, key []byte, err error) {
	keyDER, err := x509.MarshalECPrivateKey(p.Key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshaling key")
	}

	cert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.Cert.Raw})
	key = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return cert, key, nil
}
