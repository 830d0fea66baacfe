// esdctl is the operator command line for esdcore.
package main

import (
	"os"

	"github.com/nerrad567/gray-logic-esd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
