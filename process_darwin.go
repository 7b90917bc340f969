//go:build darwin

package ioloop

import (
	"syscall"
)

// setKillOnExit is a no-op on Darwin: there is no parent-death signal.
// The option is documented as Linux-only.
func setKillOnExit(_ *syscall.SysProcAttr) {}
