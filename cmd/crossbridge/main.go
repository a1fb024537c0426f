// Command crossbridge is the CLI entrypoint, mapping cliapp.Execute's
// error back to the exit codes spec §4.8/§8 define. Grounded on
// daydemir-ralph/cmd/ralph/main.go's thin cli.Execute()+os.Exit(1)
// wrapper, generalized to map the five apperrors.Kind categories to
// their distinct codes instead of a flat 1.
package main

import (
	"os"

	"github.com/crossbridge-dev/crossbridge/internal/apperrors"
	"github.com/crossbridge-dev/crossbridge/internal/cliapp"
)

func main() {
	if err := cliapp.Execute(); err != nil {
		kind := apperrors.KindOf(err)
		code := kind.ExitCode()
		if code == 0 {
			code = 1
		}
		os.Exit(code)
	}
}
