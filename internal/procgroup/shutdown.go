// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
)

// Terminate stops a process group: SIGTERM, wait up to grace for waitCh,
// then SIGKILL. It always drains waitCh and returns the wait error.
// Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		metrics.IncProcSignal("SIGTERM", "error")
		log.L().Debug().Err(err).Int("pid", pid).Msg("SIGTERM to process group failed")
	} else {
		metrics.IncProcSignal("SIGTERM", "sent")
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	log.L().Warn().Int("pid", pid).Dur("grace", grace).Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if err := Kill(cmd, syscall.SIGKILL); err != nil {
		metrics.IncProcSignal("SIGKILL", "error")
	} else {
		metrics.IncProcSignal("SIGKILL", "sent")
	}
	return <-waitCh
}
