// Command streamcore runs and inspects the partitions of a streamcore node.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/streamcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
