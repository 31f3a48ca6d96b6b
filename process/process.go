// Package process tracks the OS processes of supervised servers. A process is
// identified by its PID together with its creation time so that a handle
// stored by a previous supervisor instance can be checked against PID reuse.
package process

import (
	"context"
	"fmt"
	"strings"

	"emperror.dev/errors"
)

const ErrTerminateTimedOut = errors.Sentinel("process: timed out waiting for process to exit")

// Identity is the durable handle of a running process.
type Identity struct {
	PID int32 `json:"pid"`
	// StartMarker is the creation time of the process in milliseconds since
	// the epoch, as reported by the OS.
	StartMarker int64 `json:"start_marker"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%d@%d", i.PID, i.StartMarker)
}

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityRealTime Priority = "realtime"
)

// ParsePriority converts a configuration value into a Priority. An empty value
// is treated as normal priority.
func ParsePriority(v string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(v))); p {
	case "":
		return PriorityNormal, nil
	case PriorityNormal, PriorityHigh, PriorityRealTime:
		return p, nil
	case "real-time", "real_time":
		return PriorityRealTime, nil
	}
	return "", errors.Errorf("process: unknown priority class %q", v)
}

// Spec is everything needed to create a server process.
type Spec struct {
	Name       string
	Executable string
	Dir        string
	Args       []string
	// Env is appended to the environment of the supervisor.
	Env      []string
	Priority Priority
}

// Tracker creates, inspects and terminates server processes.
type Tracker interface {
	// Spawn starts the process and captures its identity.
	Spawn(ctx context.Context, spec Spec) (Identity, error)
	// IsAlive reports whether the process with this identity is still running.
	// A PID now held by a different process is never alive.
	IsAlive(ctx context.Context, id Identity) bool
	// Terminate asks the OS to end the process. A process that is already gone
	// is not an error.
	Terminate(ctx context.Context, id Identity) error
}

type LaunchError struct {
	Name string
	err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("process: failed to launch %s: %s", e.Name, e.err)
}

func (e *LaunchError) Unwrap() error {
	return e.err
}

func NewLaunchError(name string, err error) error {
	return errors.WithStackDepth(&LaunchError{Name: name, err: err}, 1)
}

// IsLaunchError checks if the error is, or wraps, a LaunchError.
func IsLaunchError(err error) bool {
	var lerr *LaunchError
	return errors.As(err, &lerr)
}

type TerminateError struct {
	Identity Identity
	err      error
}

func (e *TerminateError) Error() string {
	return fmt.Sprintf("process: failed to terminate %s: %s", e.Identity, e.err)
}

func (e *TerminateError) Unwrap() error {
	return e.err
}

func NewTerminateError(id Identity, err error) error {
	return errors.WithStackDepth(&TerminateError{Identity: id, err: err}, 1)
}

// IsTerminateError checks if the error is, or wraps, a TerminateError.
func IsTerminateError(err error) bool {
	var terr *TerminateError
	return errors.As(err, &terr)
}
