//go:build windows

package browser

import (
	"os"
	"os/exec"
	"strconv"
)

func detachBrowserGroup(*exec.Cmd) {}

// signalBrowser stops p and its child processes with taskkill. Without /F
// the browser receives a close request and can save its profile.
func signalBrowser(p *os.Process, mode stopMode) error {
	args := []string{"/PID", strconv.Itoa(p.Pid), "/T"}
	if mode == stopKill {
		args = append(args, "/F")
	}
	if err := exec.Command("taskkill", args...).Run(); err != nil {
		if mode == stopKill {
			return p.Kill()
		}
		return err
	}
	return nil
}
