package process

import (
	"context"
	"os"
	"os/exec"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	ps "github.com/shirou/gopsutil/v3/process"
)

var errStillRunning = errors.Sentinel("process: still running")

// OSTracker manages real operating system processes.
type OSTracker struct {
	// StopTimeout bounds how long Terminate waits for the process to go away
	// after the kill request has been sent.
	StopTimeout time.Duration
	// PollInterval is the delay between liveness checks while waiting for a
	// terminated process to exit.
	PollInterval time.Duration
}

// NewOSTracker returns a tracker with the default stop timeout of ten seconds.
func NewOSTracker() *OSTracker {
	return &OSTracker{StopTimeout: 10 * time.Second, PollInterval: 100 * time.Millisecond}
}

var _ Tracker = (*OSTracker)(nil)

// Spawn starts the process in its own process group so that it outlives the
// supervisor. The creation time is read right after the process is created;
// if the process exits and its PID is recycled inside that window the captured
// identity belongs to the wrong process. That window is accepted.
func (t *OSTracker) Spawn(ctx context.Context, spec Spec) (Identity, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return Identity{}, NewLaunchError(spec.Name, err)
	}
	pid := int32(cmd.Process.Pid)
	logger := log.WithFields(log.Fields{"server": spec.Name, "pid": pid})

	// Reap our own child so that it does not linger as a zombie once it exits.
	// Processes adopted from a restore record are not our children and are
	// reaped by the OS.
	go func() {
		err := cmd.Wait()
		logger.WithField("exit", cmd.ProcessState.String()).Debug("server process exited")
		if err != nil {
			logger.WithField("error", err).Debug("server process exit reported an error")
		}
	}()

	created, err := startMarker(ctx, pid)
	if err != nil {
		// A process we cannot identify cannot be supervised, do not leave it behind.
		_ = cmd.Process.Kill()
		return Identity{}, NewLaunchError(spec.Name, err)
	}

	if spec.Priority != "" && spec.Priority != PriorityNormal {
		if err := setPriority(int(pid), spec.Priority); err != nil {
			logger.WithField("priority", spec.Priority).WithField("error", err).Warn("failed to set process priority")
		}
	}

	return Identity{PID: pid, StartMarker: created}, nil
}

// startMarker returns the creation time of the process with the given PID.
var startMarker = func(ctx context.Context, pid int32) (int64, error) {
	p, err := ps.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, errors.Wrap(err, "process exited before it could be identified")
	}
	created, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read process creation time")
	}
	return created, nil
}

// IsAlive looks the PID up and compares the creation time with the one stored
// in the identity.
func (t *OSTracker) IsAlive(ctx context.Context, id Identity) bool {
	if id.PID <= 0 {
		return false
	}
	p, err := ps.NewProcessWithContext(ctx, id.PID)
	if err != nil {
		return false
	}
	created, err := p.CreateTimeWithContext(ctx)
	if err != nil || created != id.StartMarker {
		return false
	}
	if st, err := p.StatusWithContext(ctx); err == nil {
		for _, s := range st {
			if s == ps.Zombie {
				return false
			}
		}
	}
	return true
}

// Terminate kills the process and waits up to StopTimeout for it to go away.
func (t *OSTracker) Terminate(ctx context.Context, id Identity) error {
	if !t.IsAlive(ctx, id) {
		return nil
	}
	p, err := ps.NewProcessWithContext(ctx, id.PID)
	if err != nil {
		// Gone between the two lookups.
		return nil
	}
	if err := p.KillWithContext(ctx); err != nil {
		if !t.IsAlive(ctx, id) {
			return nil
		}
		return NewTerminateError(id, err)
	}

	wctx, cancel := context.WithTimeout(ctx, t.StopTimeout)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(t.PollInterval), wctx)
	err = backoff.Retry(func() error {
		if t.IsAlive(ctx, id) {
			return errStillRunning
		}
		return nil
	}, b)
	if err != nil {
		return NewTerminateError(id, ErrTerminateTimedOut)
	}
	return nil
}
