package ssl

import (
	"io"
	"secure-socket/session/ssl/cipher"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the file form of [Param].
//
//	engine: gotls
//	proto: [tls1.2, tls1.3]
//	ciphers: [TLS_AES_128_GCM_SHA256]
//	verify_peer: true
//	handshake_timeout: 5s
type Config struct {
	Engine            string        `yaml:"engine"`
	Proto             []string      `yaml:"proto"`
	Ciphers           []string      `yaml:"ciphers"`
	VerifyPeer        bool          `yaml:"verify_peer"`
	RequireClientCert bool          `yaml:"require_client_cert"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	Concurrency       int           `yaml:"concurrency"`
	ServerName        string        `yaml:"server_name"`
}

// LoadConfig decodes a YAML document. Unknown keys are rejected and an
// empty document yields the zero Config.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "decoding config")
	}

	return cfg, nil
}

// Param converts the config, starting from [DefaultParam].
func (c Config) Param() (Param, error) {
	p := DefaultParam()

	if c.Engine != "" {
		p.Engine = c.Engine
	}
	for _, name := range c.Proto {
		proto, err := ParseProto(name)
		if err != nil {
			return p, err
		}
		p.Proto |= proto
	}
	for _, name := range c.Ciphers {
		s, ok := cipher.ID(name)
		if !ok {
			return p, errors.Wrapf(ErrNotSupported, "cipher %q", name)
		}
		p.Ciphers = append(p.Ciphers, s)
	}

	p.VerifyPeer = c.VerifyPeer
	p.RequireClientCert = c.RequireClientCert
	p.HandshakeTimeout = c.HandshakeTimeout
	p.ServerName = c.ServerName
	if c.ReadBufferSize != 0 {
		p.ReadBufferSize = c.ReadBufferSize
	}
	if c.SendBufferSize != 0 {
		p.SendBufferSize = c.SendBufferSize
	}
	if c.Concurrency != 0 {
		p.Concurrency = c.Concurrency
	}

	return p, nil
}
