// walctl is the WAL service control binary: serve, migrate, version.
package main

import (
	"os"

	"github.com/turtacn/WAL-Service/internal/interfaces/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
