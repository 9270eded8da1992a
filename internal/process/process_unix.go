//go:build unix

package process

import (
	"errors"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// signalGroup sends SIGTERM, or SIGKILL when force is set, to the whole
// process group led by pgid.
func signalGroup(pgid int, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// sweepGroup kills group members left behind by an exited leader.
func sweepGroup(pgid int, logger *zap.Logger) {
	if err := unix.Kill(-pgid, 0); err != nil {
		return
	}
	logger.Debug("Killing leftover process group members", zap.Int("pgid", pgid))
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Warn("Failed to kill leftover process group members", zap.Int("pgid", pgid), zap.Error(err))
	}
}
