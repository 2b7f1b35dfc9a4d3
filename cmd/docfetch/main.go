// Command docfetch fetches library documentation through MCP workers and
// prints it as JSON.
package main

import (
	"os"

	"github.com/docfetch/docfetch/pkg/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
