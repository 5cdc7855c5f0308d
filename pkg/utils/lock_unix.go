//go:build !windows

package utils

import (
	"errors"
	"os"
	"syscall"
)

// processAlive reports whether a process with the given PID exists. A
// process owned by another user counts as alive.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
