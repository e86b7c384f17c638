// Command shelfcast runs the kiosk catalog agent.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/shelfcast/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
