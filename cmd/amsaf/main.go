// Command amsaf propagates a segmentation from an annotated image onto an
// unannotated one through a multi-stage registration.
package main

import (
	"errors"
	"fmt"
	"os"

	aerrors "amsaf/internal/errors"
)

// Exit codes by error category
const (
	exitGeneral       = 1
	exitConfiguration = 2
	exitIO            = 3
	exitEngine        = 4
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, aerrors.ErrConfiguration):
		return exitConfiguration
	case errors.Is(err, aerrors.ErrIO):
		return exitIO
	case errors.Is(err, aerrors.ErrEngineExecution):
		return exitEngine
	}
	return exitGeneral
}
