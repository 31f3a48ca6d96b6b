package server

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type CrashHandler struct {
	mu sync.RWMutex

	// Tracks the time of the last server crash event.
	lastCrash time.Time
	count     int

	// When set, relaunch attempts after a failed launch are spaced out by this
	// backoff instead of happening on every tick.
	backoff     backoff.BackOff
	nextAttempt time.Time
}

// Returns the time of the last crash for this server instance.
func (cd *CrashHandler) LastCrashTime() time.Time {
	cd.mu.RLock()
	defer cd.mu.RUnlock()

	return cd.lastCrash
}

// Count returns the number of crashes seen since the record was created.
func (cd *CrashHandler) Count() int {
	cd.mu.RLock()
	defer cd.mu.RUnlock()

	return cd.count
}

// Records a crash that was detected at the given time.
func (cd *CrashHandler) RecordCrash(t time.Time) {
	cd.mu.Lock()
	cd.lastCrash = t
	cd.count++
	cd.mu.Unlock()
}

// SetBackoff installs the backoff used to space out relaunch attempts if none
// has been installed yet.
func (cd *CrashHandler) SetBackoff(b backoff.BackOff) {
	cd.mu.Lock()
	if cd.backoff == nil {
		cd.backoff = b
	}
	cd.mu.Unlock()
}

// ShouldAttempt reports whether a relaunch may be attempted at t. Without a
// backoff this is always true.
func (cd *CrashHandler) ShouldAttempt(t time.Time) bool {
	cd.mu.RLock()
	defer cd.mu.RUnlock()

	return cd.backoff == nil || !t.Before(cd.nextAttempt)
}

// AttemptFailed pushes the next allowed relaunch attempt out.
func (cd *CrashHandler) AttemptFailed(t time.Time) {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.backoff == nil {
		return
	}
	next := cd.backoff.NextBackOff()
	if next == backoff.Stop {
		next = 0
	}
	cd.nextAttempt = t.Add(next)
}

// Reset clears the backoff once the server is running again.
func (cd *CrashHandler) Reset() {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if cd.backoff != nil {
		cd.backoff.Reset()
	}
	cd.nextAttempt = time.Time{}
}
