package system

import (
	"emperror.dev/errors"
)

var ErrLockerLocked = errors.Sentinel("locker: cannot acquire lock, already locked")

// Locker is a non-reentrant lock that is never released. The supervisor uses
// it to make sure its loop is only ever started once.
type Locker struct {
	ch chan struct{}
}

// NewLocker returns a new unlocked Locker.
func NewLocker() *Locker {
	return &Locker{ch: make(chan struct{}, 1)}
}

// Acquire takes the lock if it is free, otherwise ErrLockerLocked is returned
// immediately.
func (l *Locker) Acquire() error {
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
		return ErrLockerLocked
	}
}
