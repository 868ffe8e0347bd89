package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a command failure to a process exit code:
// configuration errors and blob I/O errors are distinguishable from
// each other and from an ordinary usage error.
func exitCodeFor(err error) int {
	var cfgErr *configError
	var ioErr *startupIOError
	switch {
	case errors.As(err, &cfgErr):
		return 2
	case errors.As(err, &ioErr):
		return 3
	default:
		return 1
	}
}
