package process

import (
	"context"
	"sync"

	"emperror.dev/errors"
)

var (
	ErrFakeSpawnFailed     = errors.Sentinel("process: fake spawn failure")
	ErrFakeTerminateFailed = errors.Sentinel("process: fake terminate failure")
)

// Fake is an in-memory Tracker used to exercise supervision logic without
// touching the OS process table.
type Fake struct {
	mu      sync.Mutex
	nextPID int32
	clock   int64
	alive   map[Identity]Spec

	// FailSpawn makes every Spawn call fail with a LaunchError while set.
	FailSpawn bool
	// FailTerminate makes every Terminate call fail with a TerminateError
	// while set, leaving the process alive.
	FailTerminate bool

	Spawned    []Spec
	Terminated []Identity
}

func NewFake() *Fake {
	return &Fake{nextPID: 1000, alive: make(map[Identity]Spec)}
}

var _ Tracker = (*Fake)(nil)

func (f *Fake) Spawn(_ context.Context, spec Spec) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSpawn {
		return Identity{}, NewLaunchError(spec.Name, ErrFakeSpawnFailed)
	}
	f.nextPID++
	f.clock++
	id := Identity{PID: f.nextPID, StartMarker: f.clock}
	f.alive[id] = spec
	f.Spawned = append(f.Spawned, spec)
	return id, nil
}

func (f *Fake) IsAlive(_ context.Context, id Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.alive[id]
	return ok
}

func (f *Fake) Terminate(_ context.Context, id Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alive[id]; !ok {
		return nil
	}
	if f.FailTerminate {
		return NewTerminateError(id, ErrFakeTerminateFailed)
	}
	delete(f.alive, id)
	f.Terminated = append(f.Terminated, id)
	return nil
}

// Crash makes the process disappear as if it had exited on its own.
func (f *Fake) Crash(id Identity) {
	f.mu.Lock()
	delete(f.alive, id)
	f.mu.Unlock()
}

// Recycle replaces the process with a different one holding the same PID,
// simulating PID reuse by the OS.
func (f *Fake) Recycle(id Identity) Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec := f.alive[id]
	delete(f.alive, id)
	f.clock++
	n := Identity{PID: id.PID, StartMarker: f.clock}
	f.alive[n] = spec
	return n
}

// Adopt registers an identity as alive, as if it had been started by another
// supervisor instance.
func (f *Fake) Adopt(id Identity, spec Spec) {
	f.mu.Lock()
	f.alive[id] = spec
	f.mu.Unlock()
}

// Alive returns the number of live processes.
func (f *Fake) Alive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alive)
}
