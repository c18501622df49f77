// Command postvault archives a newsletter publication into a local SQLite
// store and answers queries against it.
package main

import (
	"os"

	"github.com/runnerr0/postvault/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// go-flags already printed the error.
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
