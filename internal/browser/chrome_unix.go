//go:build !windows

package browser

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// detachBrowserGroup makes the browser the leader of a new process group so
// renderers and the GPU process can be stopped with it.
func detachBrowserGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalBrowser sends the stop signal to p's whole group. A group that is
// already gone counts as stopped.
func signalBrowser(p *os.Process, mode stopMode) error {
	sig := unix.SIGTERM
	if mode == stopKill {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-p.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
