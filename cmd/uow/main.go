// Command uow bootstraps configuration for unit-of-work sessions and checks
// backend connectivity.
package main

import (
	"os"

	"github.com/mesh-intelligence/unitofwork/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
