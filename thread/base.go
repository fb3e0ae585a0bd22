// File: thread/base.go
// Package thread provides the OS-thread lifecycle base collaborator used by
// the cooperative event thread (the periodic driver takes only a heartbeat
// callback instead): naming, CPU affinity, a liveness
// heartbeat, and a suspend/resume protocol safe to drive from another
// goroutine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package thread

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nic-sdk-core/affinity"
	"github.com/momentics/nic-sdk-core/api"
)

// State is a thread's lifecycle stage.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateReady
	StateRunning
	StateSuspended
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Base is the shared lifecycle/affinity/heartbeat state for a dedicated OS
// thread. A component holds one in its own type (eventthread.Thread keeps a
// *Base field) rather than using it standalone.
type Base struct {
	name      string
	id        uint32
	coresMask uint64

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanoseconds

	mu          sync.Mutex
	suspendReqd bool
	suspendFn   func()
	resumeCh    chan struct{}

	affMu   sync.Mutex
	pinned  bool
	pinCPU  int
	pinNUMA int
}

// NewBase constructs a Base for a thread named name, identified by id
// (bounded by api.MaxThreadID), optionally pinned to coresMask (a bitmask
// of acceptable logical CPUs; 0 means no pinning).
func NewBase(name string, id uint32, coresMask uint64) (*Base, error) {
	if id > api.MaxThreadID {
		return nil, fmt.Errorf("thread: %w: id %d exceeds max %d", api.ErrInvalidArgument, id, api.MaxThreadID)
	}
	b := &Base{
		name:      name,
		id:        id,
		coresMask: coresMask,
		resumeCh:  make(chan struct{}, 1),
	}
	b.state.Store(int32(StateCreated))
	return b, nil
}

// Name returns the thread's configured name.
func (b *Base) Name() string { return b.name }

// ID returns the thread's configured identifier.
func (b *Base) ID() uint32 { return b.id }

// State returns the thread's current lifecycle stage.
func (b *Base) State() State { return State(b.state.Load()) }

// Init pins the calling OS thread to the lowest set bit of coresMask (if
// any) and transitions to StateInitialized. Must be called from the
// thread's own goroutine, having already called runtime.LockOSThread (or
// relying on affinity.SetAffinity to do so).
func (b *Base) Init() error {
	if b.coresMask != 0 {
		cpu := lowestSetBit(b.coresMask)
		if err := affinity.SetAffinity(cpu); err != nil {
			return fmt.Errorf("thread %s: pinning to cpu %d: %w", b.name, cpu, err)
		}
	}
	b.state.Store(int32(StateInitialized))
	return nil
}

func lowestSetBit(mask uint64) int {
	for i := 0; i < 64; i++ {
		if mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return 0
}

// SetReady transitions to StateReady (or back to StateInitialized) and
// punches the heartbeat.
func (b *Base) SetReady(ready bool) {
	if ready {
		b.state.Store(int32(StateReady))
	} else {
		b.state.Store(int32(StateInitialized))
	}
	b.PunchHeartbeat()
}

// SetRunning transitions to StateRunning (or StateStopping when false) and
// punches the heartbeat.
func (b *Base) SetRunning(running bool) {
	if running {
		b.state.Store(int32(StateRunning))
	} else {
		b.state.Store(int32(StateStopping))
	}
	b.PunchHeartbeat()
}

// PunchHeartbeat records the current time as the thread's last-seen-alive
// timestamp, for a watchdog/control probe to compare against
// api.CallbackBudget-scale thresholds.
func (b *Base) PunchHeartbeat() {
	b.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the time PunchHeartbeat was last called.
func (b *Base) LastHeartbeat() time.Time {
	ns := b.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Suspended reports whether the thread is currently parked in
// CheckAndSuspend.
func (b *Base) Suspended() bool {
	return b.State() == StateSuspended
}

// SuspendReq asks the owning goroutine to park itself the next time it
// calls CheckAndSuspend, invoking fn once parked. Safe to call from any
// goroutine. Returns api.ErrAlreadyExists if a suspend is already pending
// or in effect.
func (b *Base) SuspendReq(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.suspendReqd || b.State() == StateSuspended {
		return fmt.Errorf("thread %s: %w: suspend already pending", b.name, api.ErrAlreadyExists)
	}
	b.suspendReqd = true
	b.suspendFn = fn
	return nil
}

// ResumeReq releases a thread parked in CheckAndSuspend.
func (b *Base) ResumeReq() {
	b.mu.Lock()
	wasSuspended := b.State() == StateSuspended
	b.mu.Unlock()
	if wasSuspended {
		select {
		case b.resumeCh <- struct{}{}:
		default:
		}
	} else {
		b.mu.Lock()
		b.suspendReqd = false
		b.suspendFn = nil
		b.mu.Unlock()
	}
}

// CheckAndSuspend must be called periodically from the thread's own
// goroutine (e.g. between event-loop iterations). If a suspend was
// requested, it parks until ResumeReq is called, then restores the prior
// running state.
func (b *Base) CheckAndSuspend() {
	b.mu.Lock()
	if !b.suspendReqd {
		b.mu.Unlock()
		return
	}
	fn := b.suspendFn
	b.suspendReqd = false
	b.suspendFn = nil
	prior := b.State()
	b.state.Store(int32(StateSuspended))
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
	<-b.resumeCh
	// Stop() may have fired the same resumeCh slot to unpark us; don't
	// clobber StateStopped with the pre-suspend state in that case.
	b.state.CompareAndSwap(int32(StateSuspended), int32(prior))
	b.PunchHeartbeat()
}

var _ api.Affinity = (*Base)(nil)

// Pin locks the calling OS thread to cpuID, satisfying api.Affinity. numaID
// is recorded for Get but not itself enforced: affinity.SetAffinity has no
// NUMA-node concept, only a logical-CPU one.
func (b *Base) Pin(cpuID int, numaID int) error {
	if err := affinity.SetAffinity(cpuID); err != nil {
		return fmt.Errorf("thread %s: pinning to cpu %d: %w", b.name, cpuID, err)
	}
	b.affMu.Lock()
	b.pinned = true
	b.pinCPU = cpuID
	b.pinNUMA = numaID
	b.affMu.Unlock()
	return nil
}

// Unpin clears Base's own pinning bookkeeping. There is no corresponding
// unbind syscall in package affinity, so the OS thread's affinity mask
// itself is left as last set by Pin; a later Pin call is required to
// actually move it.
func (b *Base) Unpin() error {
	b.affMu.Lock()
	b.pinned = false
	b.affMu.Unlock()
	return nil
}

// Get reports the CPU/NUMA node last passed to Pin. cpuID/numaID are both -1
// if Pin has not been called (or Unpin cleared it).
func (b *Base) Get() (cpuID int, numaID int, err error) {
	b.affMu.Lock()
	defer b.affMu.Unlock()
	if !b.pinned {
		return -1, -1, nil
	}
	return b.pinCPU, b.pinNUMA, nil
}

// Stop transitions to StateStopped. If the thread is currently parked in
// CheckAndSuspend, it is woken so it can observe the stop.
func (b *Base) Stop() {
	wasSuspended := b.Suspended()
	b.state.Store(int32(StateStopped))
	if wasSuspended {
		select {
		case b.resumeCh <- struct{}{}:
		default:
		}
	}
}
