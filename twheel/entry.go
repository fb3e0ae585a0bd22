// File: twheel/entry.go
// Package twheel
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package twheel

import "time"

// Callback fires when a timer's slice is reached and its spin count is zero.
// h is the same Handle returned by AddTimer, so the callback can call
// UpdTimer/DelTimer on itself.
type Callback func(h Handle, timerID uint32, ctx any)

// entry is a single timer-wheel entry (the original's twentry_t). Handle is
// an opaque pointer to it, matching the original's void *timer contract.
type entry struct {
	timerID  uint32
	timeout  time.Duration
	periodic bool
	valid    bool
	ctx      any
	cb       Callback
	nspins   uint32
	slice    uint32
	next     *entry
	prev     *entry
}

// Handle is an opaque reference to a scheduled timer, returned by AddTimer
// and consumed by DelTimer/UpdTimer/UpdTimerCtx/GetTimeoutRemaining.
type Handle = *entry

type wheelSlice struct {
	lock spinlock
	head *entry
}

// insert links e at the head of its destination slice's list. Caller must
// hold that slice's lock.
func (s *wheelSlice) insert(e *entry) {
	cur := s.head
	e.next = cur
	if cur != nil {
		cur.prev = e
	}
	e.prev = nil
	s.head = e
	e.valid = true
}

// unlink removes e from whichever slice list currently holds it. Caller
// must hold that slice's lock.
func (s *wheelSlice) unlink(e *entry) {
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e.prev == nil {
		s.head = e.next
	} else {
		e.prev.next = e.next
	}
	e.next, e.prev = nil, nil
}

// remove is a logical delete: unlink and clear valid. No-op if already invalid.
func (s *wheelSlice) remove(e *entry) {
	if !e.valid {
		return
	}
	s.unlink(e)
	e.valid = false
}

// lastInSlice walks from head to the tail (oldest-linked) entry, matching
// the original's last_timer_in_slice: new entries are inserted at the head,
// so tick must start from the tail and walk backward via prev.
func (s *wheelSlice) lastInSlice() *entry {
	last := s.head
	for last != nil && last.next != nil {
		last = last.next
	}
	return last
}
