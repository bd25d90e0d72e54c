// Package transport defines the stream connection abstractions the secure
// socket layer is built on.
package transport

type Protocol string

const (
	TCP  Protocol = "tcp"
	Pipe Protocol = "pipe"
)

// Addr is compatible with [net.Addr].
type Addr interface {
	Network() string
	String() string
}
