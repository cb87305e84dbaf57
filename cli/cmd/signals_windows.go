//go:build windows

package cmd

import "os"

var retrySignals []os.Signal
