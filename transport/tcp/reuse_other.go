//go:build !unix

package tcp

import "syscall"

// Go sets SO_REUSEADDR on its own where the platform has a matching option.
func reuseAddrControl(network, address string, rc syscall.RawConn) error {
	return nil
}
