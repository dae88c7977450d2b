// meshtls is the mutual TLS identity daemon of a mesh sidecar.
//
// It holds the proxy's private key and trust anchors, accepts the
// certificates issued to that key and serves mutual TLS with the most
// recently accepted one.
//
// Usage:
//
//	meshtls serve --config /etc/meshtls/meshtls.yaml
//	meshtls check --require-cert
//	meshtls probe <server-identity> <address>
//	meshtls --help
package main

import (
	"fmt"
	"os"

	"github.com/sufield/meshtls/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
