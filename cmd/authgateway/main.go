// Command authgateway runs the auth gateway: the OAuth token proxy and the
// shared-signal receiver.
package main

import (
	"os"
)

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:]))
}
