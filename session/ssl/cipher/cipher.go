// Package cipher lists the cipher suites the registered engine backends can
// negotiate. The table is built on first use, so every backend must be
// registered by then.
package cipher

import (
	"crypto/tls"
	"secure-socket/session/ssl/engine"
	"slices"
	"sync"
)

type Suite uint16

func (s Suite) String() string {
	return Name(s)
}

type entry struct {
	name     string
	backends []string
}

type table struct {
	ids    []Suite
	byID   map[Suite]*entry
	byName map[string]Suite
}

var (
	once sync.Once
	tbl  *table
)

func load() *table {
	once.Do(func() {
		t := &table{
			byID:   make(map[Suite]*entry),
			byName: make(map[string]Suite),
		}

		for _, b := range engine.Backends() {
			for _, id := range b.Ciphers() {
				s := Suite(id)
				e, ok := t.byID[s]
				if !ok {
					e = &entry{name: tls.CipherSuiteName(id)}
					t.byID[s] = e
					t.byName[e.name] = s
					t.ids = append(t.ids, s)
				}
				e.backends = append(e.backends, b.Name())
			}
		}
		slices.Sort(t.ids)

		tbl = t
	})
	return tbl
}

// Availables returns every supported suite in ascending id order.
func Availables() []Suite {
	return slices.Clone(load().ids)
}

// Name returns the IANA name of s, or its hex id when unknown.
func Name(s Suite) string {
	if e, ok := load().byID[s]; ok {
		return e.name
	}
	return tls.CipherSuiteName(uint16(s))
}

// ID looks a suite up by its IANA name.
func ID(name string) (Suite, bool) {
	s, ok := load().byName[name]
	return s, ok
}

func IsSupported(s Suite) bool {
	_, ok := load().byID[s]
	return ok
}

// Backends names the backends able to negotiate s.
func Backends(s Suite) []string {
	if e, ok := load().byID[s]; ok {
		return slices.Clone(e.backends)
	}
	return nil
}

// SupportedBy reports whether the named backend negotiates s.
func SupportedBy(s Suite, backend string) bool {
	return slices.Contains(Backends(s), backend)
}
