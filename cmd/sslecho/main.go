// Command sslecho runs a TLS echo server and client on top of secure sockets.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
