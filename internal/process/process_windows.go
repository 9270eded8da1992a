//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalGroup asks taskkill to end the process tree, forcefully when force
// is set.
func signalGroup(pid int, force bool) error {
	args := []string{"/PID", strconv.Itoa(pid), "/T"}
	if force {
		args = append(args, "/F")
	}
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill %v: %w: %s", args, err, out)
	}
	return nil
}

// sweepGroup is a no-op: the pid of an exited process may already be reused.
func sweepGroup(int, *zap.Logger) {}
