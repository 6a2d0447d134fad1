// Command fsd is the file storage daemon: it serves the wire protocol
// described by the service's specification over an AF_UNIX socket.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/fsd/cmd/fsd/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
