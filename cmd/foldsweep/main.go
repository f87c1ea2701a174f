// Command foldsweep drives k-fold fine-tuning sweeps.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/foldsweep/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands report their own failures as *cli.ExitError. Anything else
		// is a flag or argument error from cobra and has not been printed.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
