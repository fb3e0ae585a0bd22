// File: twheel/wheel.go
// Package twheel implements a hierarchical hashed timer wheel: a ring of N
// slices covering a fixed total duration D at slice granularity g = D/N,
// with a spin counter for timeouts longer than D and a delay-delete epoch
// for safe deferred reclamation across the lock-release/callback boundary.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package twheel

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/nic-sdk-core/api"
	"github.com/momentics/nic-sdk-core/pool"
)

const defaultPoolBlockSize = 256

type config struct {
	sliceIntvl    time.Duration
	duration      time.Duration
	threadSafe    bool
	poolBlockSize int
}

// Option configures a Wheel at construction time.
type Option func(*config)

// WithSliceInterval overrides the default slice width (250ms).
func WithSliceInterval(d time.Duration) Option {
	return func(c *config) { c.sliceIntvl = d }
}

// WithDuration overrides the default full-rotation duration (120s).
func WithDuration(d time.Duration) Option {
	return func(c *config) { c.duration = d }
}

// WithThreadSafe enables the per-slice spinlock. Disable only when the
// caller can prove single-threaded access (e.g. tests).
func WithThreadSafe(b bool) Option {
	return func(c *config) { c.threadSafe = b }
}

// WithPoolBlockSize overrides the entry slab's elements-per-block.
func WithPoolBlockSize(n int) Option {
	return func(c *config) { c.poolBlockSize = n }
}

// Wheel is a single hierarchical hashed timer wheel instance.
type Wheel struct {
	entryPool  *pool.SlabPool[entry]
	sliceIntvl time.Duration
	threadSafe bool
	nslices    uint32
	slices     []wheelSlice
	currSlice  uint32
	numEntries atomic.Int64
}

// New constructs a Wheel. Defaults: 250ms slices, 120s duration, thread-safe.
// Returns an error if sliceIntvl is zero, duration is zero, or
// duration <= sliceIntvl.
func New(opts ...Option) (*Wheel, error) {
	c := config{
		sliceIntvl:    api.DefaultSliceInterval,
		duration:      api.DefaultWheelDuration,
		threadSafe:    true,
		poolBlockSize: defaultPoolBlockSize,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.sliceIntvl <= 0 || c.duration <= 0 || c.duration <= c.sliceIntvl {
		return nil, fmt.Errorf("twheel: %w: slice=%s duration=%s", api.ErrInvalidArgument, c.sliceIntvl, c.duration)
	}

	nslices := uint32(c.duration / c.sliceIntvl)
	w := &Wheel{
		entryPool:  pool.NewSlabPool[entry](c.poolBlockSize, true, false),
		sliceIntvl: c.sliceIntvl,
		threadSafe: c.threadSafe,
		nslices:    nslices,
		slices:     make([]wheelSlice, nslices),
	}
	return w, nil
}

func (w *Wheel) lockSlice(i uint32) {
	if w.threadSafe {
		w.slices[i].lock.Lock()
	}
}

func (w *Wheel) unlockSlice(i uint32) {
	if w.threadSafe {
		w.slices[i].lock.Unlock()
	}
}

// nextSlice computes the destination slice for timeout, matching the
// original's next_slice_: rem = timeout mod (N*g); k = max(1, rem/g);
// candidate = (curr + k) mod N. When update is true and the candidate
// equals entrySlice (the slice whose lock the caller already holds), the
// candidate is advanced by one to avoid a self-deadlock on a non-reentrant
// spinlock, at the cost of one extra slice of latency.
func (w *Wheel) nextSlice(timeout time.Duration, entrySlice uint32, update bool) uint32 {
	total := time.Duration(w.nslices) * w.sliceIntvl
	rem := timeout % total
	k := uint32(rem / w.sliceIntvl)
	if k == 0 {
		k = 1
	}
	slice := (w.currSlice + k) % w.nslices
	if update && slice == entrySlice {
		slice = (slice + 1) % w.nslices
	}
	return slice
}

func initEntry(e *entry, timerID uint32, timeout time.Duration, periodic bool, ctx any, cb Callback, slice uint32, nslices uint32, sliceIntvl time.Duration) {
	e.timerID = timerID
	e.timeout = timeout
	e.periodic = periodic
	e.ctx = ctx
	e.cb = cb
	e.valid = false
	e.nspins = uint32(timeout / (time.Duration(nslices) * sliceIntvl))
	e.slice = slice
	e.next, e.prev = nil, nil
}

// AddTimer schedules cb to fire after initialDelay+timeout (periodic
// timers re-fire every timeout thereafter). Returns nil on slab exhaustion.
func (w *Wheel) AddTimer(timerID uint32, timeout time.Duration, ctx any, cb Callback, periodic bool, initialDelay time.Duration) Handle {
	slice := w.nextSlice(initialDelay+timeout, 0, false)

	e := w.entryPool.Alloc()
	if e == nil {
		return nil
	}
	initEntry(e, timerID, timeout, periodic, ctx, cb, slice, w.nslices, w.sliceIntvl)

	w.lockSlice(slice)
	w.slices[slice].insert(e)
	w.numEntries.Add(1)
	w.unlockSlice(slice)

	return e
}

// delayDelete re-links e into a slice ~DelayDeleteInterval in the future
// with valid=false. The caller must have already unlinked e; delayDelete
// does not hold any slice lock on entry (the caller may still be holding
// e's former slice's lock — next_slice's update-collision-avoidance
// guarantees the target differs, so this cannot self-deadlock).
func (w *Wheel) delayDelete(e *entry) {
	slice := w.nextSlice(api.DelayDeleteInterval, e.slice, true)
	w.lockSlice(slice)
	initEntry(e, e.timerID, api.DelayDeleteInterval, false, e.ctx, nil, slice, w.nslices, w.sliceIntvl)
	w.slices[slice].insert(e)
	e.valid = false
	w.numEntries.Add(1)
	w.unlockSlice(slice)
}

// updTimer re-initializes and relinks e under its (possibly new) slice.
// e must already be unlinked from its old slice. The caller may still hold
// that old slice's lock (Tick does): nextSlice with update=true never picks
// e.slice, so the target lock taken here is always a different one.
func (w *Wheel) updTimer(e *entry, timeout time.Duration, periodic bool) {
	slice := w.nextSlice(timeout, e.slice, true)
	w.lockSlice(slice)
	initEntry(e, e.timerID, timeout, periodic, e.ctx, e.cb, slice, w.nslices, w.sliceIntvl)
	w.slices[slice].insert(e)
	w.unlockSlice(slice)
}

// DelTimer removes h from the wheel and returns its ctx. Idempotent: a
// handle already pending delay-delete returns ctx without further action.
// DelTimer(nil) returns nil.
func (w *Wheel) DelTimer(h Handle) any {
	if h == nil {
		return nil
	}
	e := h
	ctx := e.ctx

	var slice uint32
	for {
		slice = e.slice
		w.lockSlice(slice)
		if e.slice == slice {
			break
		}
		w.unlockSlice(slice)
	}
	if !e.valid {
		w.unlockSlice(slice)
		return ctx
	}
	w.slices[slice].remove(e)
	w.numEntries.Add(-1)
	w.unlockSlice(slice)

	w.delayDelete(e)
	return ctx
}

// UpdTimer reschedules h with a new timeout/periodic/ctx, relocating it to
// a future slice. Returns h unchanged if it is nil or already delay-deleted.
func (w *Wheel) UpdTimer(h Handle, timeout time.Duration, periodic bool, ctx any) Handle {
	if h == nil {
		return nil
	}
	e := h

	var entrySlice uint32
	for {
		entrySlice = e.slice
		w.lockSlice(entrySlice)
		if e.slice == entrySlice {
			break
		}
		w.unlockSlice(entrySlice)
	}
	if !e.valid {
		w.unlockSlice(entrySlice)
		return e
	}
	w.slices[entrySlice].remove(e)
	w.numEntries.Add(-1)

	slice := w.nextSlice(timeout, entrySlice, true)
	w.lockSlice(slice)
	initEntry(e, e.timerID, timeout, periodic, ctx, e.cb, slice, w.nslices, w.sliceIntvl)
	w.slices[slice].insert(e)
	w.numEntries.Add(1)
	w.unlockSlice(slice)
	w.unlockSlice(entrySlice)

	return e
}

// UpdTimerCtx swaps h's context without touching its schedule. Caller-synchronized.
func (w *Wheel) UpdTimerCtx(h Handle, ctx any) Handle {
	if h == nil {
		return nil
	}
	h.ctx = ctx
	return h
}

// GetTimeoutRemaining reports how long until h next fires, in the same
// units as the wheel's configured slice interval.
func (w *Wheel) GetTimeoutRemaining(h Handle) time.Duration {
	if h == nil {
		return 0
	}
	e := h
	total := time.Duration(w.nslices) * w.sliceIntvl
	remSlices := (e.slice - w.currSlice + w.nslices) % w.nslices
	return time.Duration(e.nspins)*total + time.Duration(remSlices)*w.sliceIntvl
}

// TimerValid reports whether h is still linked and not delay-deleted.
func (w *Wheel) TimerValid(h Handle) bool {
	return h != nil && h.valid
}

// NumEntries returns the total linked-entry count, including delay-delete
// corpses not yet physically reclaimed by a later Tick.
func (w *Wheel) NumEntries() int64 {
	return w.numEntries.Load()
}

// SliceInterval returns the wheel's configured slice width.
func (w *Wheel) SliceInterval() time.Duration { return w.sliceIntvl }

// Tick advances the wheel by elapsed, processing every slice crossed. Each
// iteration locks and processes the current slice first, then advances
// curr_slice after unlocking, matching the original's tick(): process then
// advance, not advance then process. If elapsed is less than one slice
// interval, Tick is a no-op. Callers must not invoke Tick concurrently
// (single-driver contract).
func (w *Wheel) Tick(elapsed time.Duration) {
	if elapsed < w.sliceIntvl {
		return
	}
	nslices := uint32(elapsed / w.sliceIntvl)
	if nslices < 1 {
		nslices = 1
	}

	for {
		w.lockSlice(w.currSlice)
		s := &w.slices[w.currSlice]
		e := s.lastInSlice()
		for e != nil {
			if !e.valid {
				prev := e.prev
				s.unlink(e)
				w.entryPool.Free(e)
				w.numEntries.Add(-1)
				e = prev
				continue
			}
			if e.nspins > 0 {
				e.nspins--
				e = e.prev
				continue
			}

			prev := e.prev
			e.cb(e, e.timerID, e.ctx)
			if e.periodic {
				if e.valid {
					s.remove(e)
					w.numEntries.Add(-1)
					w.updTimer(e, e.timeout, true)
					w.numEntries.Add(1)
				}
			} else if e.valid {
				s.remove(e)
				w.numEntries.Add(-1)
				w.delayDelete(e)
			}
			e = prev
		}
		w.unlockSlice(w.currSlice)
		w.currSlice = (w.currSlice + 1) % w.nslices
		nslices--
		if nslices == 0 {
			break
		}
	}
}
