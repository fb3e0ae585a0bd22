// File: twheel/spinlock.go
// Package twheel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A minimal CAS/backoff spinlock, one per wheel slice. Deliberately not
// sync.Mutex: the wheel's documented locking discipline (spec §5) is a
// spinlock held across the callback during tick, matching the original's
// SDK_SPINLOCK_* macros.

package twheel

import (
	"runtime"
	"sync/atomic"
)

type spinlock struct {
	state atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	s.state.Store(false)
}
