package system

import "sync/atomic"

// AtomicBool is a boolean that can be safely shared between goroutines.
type AtomicBool struct {
	v atomic.Bool
}

func NewAtomicBool(v bool) *AtomicBool {
	b := AtomicBool{}
	b.v.Store(v)
	return &b
}

func (ab *AtomicBool) Store(v bool) {
	ab.v.Store(v)
}

func (ab *AtomicBool) Load() bool {
	return ab.v.Load()
}

// SwapIf stores the value only if it differs from the current one, returning
// true if the swap happened. Used to guard "only once" style initializers.
func (ab *AtomicBool) SwapIf(v bool) bool {
	return ab.v.CompareAndSwap(!v, v)
}
