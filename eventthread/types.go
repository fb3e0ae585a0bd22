// File: eventthread/types.go
// Package eventthread implements a cooperative, single-OS-thread readiness
// loop multiplexing fd readiness, repeating timers, inter-thread messages,
// and up/down liveness notifications — one thread per instance, grounded
// on original_source/lib/event_thread/event_thread.cc.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package eventthread

import "time"

// Event is a bitmask of readiness conditions delivered to an IOHandler.
type Event int

const (
	EventRead Event = 1 << iota
	EventWrite
)

// MessageHandler processes a USER_MSG payload delivered via SendMessage.
type MessageHandler func(payload any, ctx any)

// IOHandler processes fd readiness.
type IOHandler func(fd uintptr, events Event, ctx any)

// TimerHandler processes a repeating-timer firing.
type TimerHandler func(ctx any)

// PrepareHandler runs once per loop iteration, before the thread blocks on
// readiness.
type PrepareHandler func(ctx any)

// UpDownHandler processes a subscribed-to target's up transition.
type UpDownHandler func(threadID uint32, ctx any)

// InitFunc/ExitFunc bracket the thread's run loop, invoked once each with
// the thread's user context.
type InitFunc func(ctx any)
type ExitFunc func(ctx any)

type envelopeKind int

const (
	msgUser envelopeKind = iota
	msgUpDown
)

type envelope struct {
	kind     envelopeKind
	payload  any
	threadID uint32
}

// IOWatcher tracks one registered fd. Mutate only via Thread.IOStart/IOStop,
// called from the owning thread's own goroutine.
type IOWatcher struct {
	fd     uintptr
	cb     IOHandler
	ctx    any
	active bool
}

// TimerWatcher tracks one repeating or one-shot timer registered with the
// loop's internal scheduling, distinct from twheel-backed timers.
type TimerWatcher struct {
	initialDelay time.Duration
	repeat       time.Duration
	cb           TimerHandler
	ctx          any
	active       bool
	deadline     time.Time
}

// PrepareWatcher runs once per loop iteration before blocking on readiness.
type PrepareWatcher struct {
	cb     PrepareHandler
	ctx    any
	active bool
}
