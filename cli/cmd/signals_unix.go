//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// retrySignals trigger a registration retry in the listen command.
var retrySignals = []os.Signal{syscall.SIGUSR1}
