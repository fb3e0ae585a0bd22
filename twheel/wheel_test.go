// File: twheel/wheel_test.go
package twheel

import (
	"testing"
	"time"

	"github.com/momentics/nic-sdk-core/pool"
)

func newTestWheel(t *testing.T) *Wheel {
	t.Helper()
	w, err := New(
		WithSliceInterval(10*time.Millisecond),
		WithDuration(100*time.Millisecond),
		WithThreadSafe(false),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New(WithSliceInterval(0)); err == nil {
		t.Fatal("expected error for zero slice interval")
	}
	if _, err := New(WithDuration(0)); err == nil {
		t.Fatal("expected error for zero duration")
	}
	if _, err := New(WithSliceInterval(time.Second), WithDuration(time.Second)); err == nil {
		t.Fatal("expected error for duration <= sliceIntvl")
	}
}

func TestAddTimer_FiresAfterTick(t *testing.T) {
	w := newTestWheel(t)
	fired := 0
	h := w.AddTimer(1, 30*time.Millisecond, "ctx", func(h Handle, id uint32, ctx any) {
		fired++
	}, false, 0)
	if h == nil {
		t.Fatal("expected non-nil handle")
	}
	if w.NumEntries() != 1 {
		t.Fatalf("expected 1 entry, got %d", w.NumEntries())
	}

	for i := 0; i < 3; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired != 0 {
		t.Fatalf("expected no fire before target slice, got %d", fired)
	}
	w.Tick(10 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", fired)
	}
}

func TestPeriodicTimer_RefiresRepeatedly(t *testing.T) {
	w := newTestWheel(t)
	fired := 0
	w.AddTimer(1, 10*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {
		fired++
	}, true, 0)

	for i := 0; i < 5; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired < 4 {
		t.Fatalf("expected periodic timer to fire repeatedly, got %d", fired)
	}
}

func TestDelTimer_PreventsCallback(t *testing.T) {
	w := newTestWheel(t)
	fired := false
	h := w.AddTimer(1, 20*time.Millisecond, "x", func(h Handle, id uint32, ctx any) {
		fired = true
	}, false, 0)

	ctx := w.DelTimer(h)
	if ctx != "x" {
		t.Fatalf("expected ctx 'x', got %v", ctx)
	}
	if w.TimerValid(h) {
		t.Fatal("expected handle to be invalid after DelTimer")
	}

	for i := 0; i < 3; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired {
		t.Fatal("deleted timer must not fire")
	}
}

func TestDelTimer_Idempotent(t *testing.T) {
	w := newTestWheel(t)
	h := w.AddTimer(1, 20*time.Millisecond, "x", func(h Handle, id uint32, ctx any) {}, false, 0)

	first := w.DelTimer(h)
	second := w.DelTimer(h)
	if first != second {
		t.Fatalf("expected idempotent ctx, got %v vs %v", first, second)
	}
}

func TestDelTimer_Nil(t *testing.T) {
	w := newTestWheel(t)
	if got := w.DelTimer(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestUpdTimer_ReschedulesAndPreservesCtx(t *testing.T) {
	w := newTestWheel(t)
	fired := 0
	h := w.AddTimer(1, 90*time.Millisecond, "old", func(h Handle, id uint32, ctx any) {
		fired++
		if ctx != "new" {
			t.Errorf("expected ctx 'new' at fire time, got %v", ctx)
		}
	}, false, 0)

	h = w.UpdTimer(h, 20*time.Millisecond, false, "new")
	if h == nil {
		t.Fatal("expected non-nil handle after update")
	}

	for i := 0; i < 3; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired != 1 {
		t.Fatalf("expected exactly 1 fire after reschedule, got %d", fired)
	}
}

func TestUpdTimerCtx_SwapsContextOnly(t *testing.T) {
	w := newTestWheel(t)
	h := w.AddTimer(1, 50*time.Millisecond, "old", func(h Handle, id uint32, ctx any) {}, false, 0)
	h = w.UpdTimerCtx(h, "new")
	if h.ctx != "new" {
		t.Fatalf("expected ctx 'new', got %v", h.ctx)
	}
}

func TestGetTimeoutRemaining_DecreasesAsTicksAdvance(t *testing.T) {
	w := newTestWheel(t)
	h := w.AddTimer(1, 50*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)

	before := w.GetTimeoutRemaining(h)
	w.Tick(10 * time.Millisecond)
	after := w.GetTimeoutRemaining(h)
	if after >= before {
		t.Fatalf("expected remaining to decrease: before=%s after=%s", before, after)
	}
}

func TestNumEntries_IncludesDelayDeleteCorpses(t *testing.T) {
	w := newTestWheel(t)
	h := w.AddTimer(1, 20*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)
	w.DelTimer(h)
	if w.NumEntries() != 1 {
		t.Fatalf("expected delay-deleted entry to still be counted, got %d", w.NumEntries())
	}
}

func TestTick_ReclaimsDelayDeletedEntryAfterEpoch(t *testing.T) {
	w := newTestWheel(t)
	h := w.AddTimer(1, 10*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)
	w.DelTimer(h)

	// the corpse is reclaimed the first time tick visits its delay-delete
	// target slice, regardless of remaining spin count.
	for i := 0; i < 5; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if w.NumEntries() != 0 {
		t.Fatalf("expected delay-deleted entry reclaimed, got %d entries remaining", w.NumEntries())
	}
}

func TestAddTimer_NilOnSlabExhaustion(t *testing.T) {
	w, err := New(
		WithSliceInterval(10*time.Millisecond),
		WithDuration(100*time.Millisecond),
		WithThreadSafe(false),
		WithPoolBlockSize(2),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.entryPool = pool.NewSlabPool[entry](2, false, false)

	a := w.AddTimer(1, 20*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)
	b := w.AddTimer(2, 20*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)
	c := w.AddTimer(3, 20*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {}, false, 0)
	if a == nil || b == nil {
		t.Fatal("expected first two allocations to succeed")
	}
	if c != nil {
		t.Fatal("expected third allocation to fail on exhaustion")
	}
}

func TestLongTimeout_SpinsAcrossMultipleRotations(t *testing.T) {
	w := newTestWheel(t) // 10 slices * 10ms = 100ms per rotation
	fired := 0
	w.AddTimer(1, 250*time.Millisecond, nil, func(h Handle, id uint32, ctx any) {
		fired++
	}, false, 0)

	for i := 0; i < 24; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired != 0 {
		t.Fatalf("expected no fire before full spin count elapses, got %d", fired)
	}
	for i := 0; i < 4; i++ {
		w.Tick(10 * time.Millisecond)
	}
	if fired != 1 {
		t.Fatalf("expected exactly 1 fire once spins exhaust, got %d", fired)
	}
}
