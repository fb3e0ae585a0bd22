// File: periodic/scheduler.go
// Package periodic — api.Scheduler adapter over a Driver's wheel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package periodic

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nic-sdk-core/api"
	"github.com/momentics/nic-sdk-core/twheel"
)

var errCanceled = fmt.Errorf("periodic: scheduled callback canceled")

// schedulerAdapter exposes a Driver's wheel through api.Scheduler, for a
// caller that only knows about the generic contract.
type schedulerAdapter struct {
	driver *Driver
	nextID atomic.Uint32
}

var _ api.Scheduler = (*schedulerAdapter)(nil)

// AsScheduler wraps d in an api.Scheduler.
func (d *Driver) AsScheduler() api.Scheduler {
	return &schedulerAdapter{driver: d}
}

// Schedule runs fn once after delayNanos, returning a Cancelable that can
// abort it before it fires.
func (s *schedulerAdapter) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, fmt.Errorf("periodic: %w: nil callback", api.ErrInvalidArgument)
	}
	wc := &wheelCancelable{driver: s.driver, done: make(chan struct{})}

	cb := func(h twheel.Handle, timerID uint32, ctx any) {
		fn()
		wc.mu.Lock()
		select {
		case <-wc.done:
		default:
			close(wc.done)
		}
		wc.mu.Unlock()
	}

	id := s.nextID.Add(1)
	h := s.driver.Schedule(id, time.Duration(delayNanos), nil, cb, false, 0)
	if h == nil {
		return nil, fmt.Errorf("periodic: %w: wheel slab exhausted", api.ErrResourceExhausted)
	}
	wc.handle = h
	return wc, nil
}

// Cancel aborts c if it has not yet fired.
func (s *schedulerAdapter) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

// Now returns wall-clock time as Unix nanoseconds. It is not a monotonic
// reading: it follows adjustments of the system clock.
func (s *schedulerAdapter) Now() int64 {
	return time.Now().UnixNano()
}

// wheelCancelable adapts a single scheduled twheel entry to api.Cancelable.
type wheelCancelable struct {
	mu     sync.Mutex
	driver *Driver
	handle twheel.Handle
	done   chan struct{}
	err    error
}

var _ api.Cancelable = (*wheelCancelable)(nil)

// Cancel removes the entry from the wheel if it has not fired yet. A no-op
// if it already fired or was already canceled.
func (wc *wheelCancelable) Cancel() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	select {
	case <-wc.done:
		return nil
	default:
	}
	wc.driver.Delete(wc.handle)
	wc.err = errCanceled
	close(wc.done)
	return nil
}

// Done is closed once the callback has fired or Cancel has been called.
func (wc *wheelCancelable) Done() <-chan struct{} {
	return wc.done
}

// Err reports errCanceled if Cancel preempted the callback, nil otherwise.
func (wc *wheelCancelable) Err() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.err
}
