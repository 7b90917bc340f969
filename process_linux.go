//go:build linux

package ioloop

import (
	"syscall"
)

// setKillOnExit arranges for the child to receive SIGKILL when the
// parent dies (PR_SET_PDEATHSIG).
func setKillOnExit(sys *syscall.SysProcAttr) {
	sys.Pdeathsig = syscall.SIGKILL
}
