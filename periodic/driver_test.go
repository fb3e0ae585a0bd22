// File: periodic/driver_test.go
package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/nic-sdk-core/control"
	"github.com/momentics/nic-sdk-core/twheel"
)

var errSourceClosed = errors.New("fake tick source closed")

// fakeTickSource delivers a fixed sequence of missed-tick counts, then
// blocks forever (simulating idle) unless the test cancels its context.
type fakeTickSource struct {
	ticks  chan uint64
	closed atomic.Bool
}

func newFakeTickSource(seq ...uint64) *fakeTickSource {
	ch := make(chan uint64, len(seq)+1)
	for _, v := range seq {
		ch <- v
	}
	return &fakeTickSource{ticks: ch}
}

func (f *fakeTickSource) wait() (uint64, error) {
	v, ok := <-f.ticks
	if !ok {
		return 0, errSourceClosed
	}
	return v, nil
}

func (f *fakeTickSource) close() error {
	f.closed.Store(true)
	close(f.ticks)
	return nil
}

func newTestDriver(t *testing.T, src tickSource) *Driver {
	t.Helper()
	w, err := twheel.New(
		twheel.WithSliceInterval(10*time.Millisecond),
		twheel.WithDuration(100*time.Millisecond),
		twheel.WithThreadSafe(false),
	)
	if err != nil {
		t.Fatalf("twheel.New: %v", err)
	}
	d := &Driver{
		wheel:     w,
		src:       src,
		interval:  10 * time.Millisecond,
		heartbeat: func() {},
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	d.batchSize.Store(10)
	return d
}

func TestDriver_SingleTickAdvancesWheelOneSlice(t *testing.T) {
	src := newFakeTickSource(1)
	d := newTestDriver(t, src)

	fired := make(chan struct{}, 1)
	d.wheel.AddTimer(1, 10*time.Millisecond, nil, func(h twheel.Handle, id uint32, ctx any) {
		fired <- struct{}{}
	}, false, 0)

	go d.Run(context.Background())
	defer d.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer to fire")
	}
}

func TestDriver_BatchesMissedTicksAndPunchesHeartbeatPerBatch(t *testing.T) {
	// 25 missed ticks at BatchSliceSize=10 should yield 3 heartbeat punches.
	src := newFakeTickSource(25)
	d := newTestDriver(t, src)

	var heartbeats atomic.Int64
	d.heartbeat = func() { heartbeats.Add(1) }

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	d.Stop()
	<-done

	if got := heartbeats.Load(); got != 3 {
		t.Fatalf("expected 3 heartbeat punches for 25 ticks batched by 10, got %d", got)
	}
}

func TestDriver_StopIsIdempotentAndUnblocksRun(t *testing.T) {
	src := newFakeTickSource()
	d := newTestDriver(t, src)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	d.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	d.Stop() // must not block or panic
}

func TestDriver_ForwardingAPIDelegatesToWheel(t *testing.T) {
	src := newFakeTickSource()
	d := newTestDriver(t, src)

	h := d.Schedule(1, 20*time.Millisecond, "ctx", func(h twheel.Handle, id uint32, ctx any) {}, false, 0)
	if h == nil {
		t.Fatal("expected non-nil handle")
	}
	if d.TimeoutRemaining(h) <= 0 {
		t.Fatal("expected positive remaining timeout")
	}
	h2 := d.UpdateCtx(h, "new")
	if h2 == nil {
		t.Fatal("expected non-nil handle from UpdateCtx")
	}
	if ctx := d.Delete(h2); ctx != "new" {
		t.Fatalf("expected ctx 'new' from Delete, got %v", ctx)
	}
}

func TestDriver_ConfigStoreTunesBatchSize(t *testing.T) {
	w, err := twheel.New(
		twheel.WithSliceInterval(10*time.Millisecond),
		twheel.WithDuration(100*time.Millisecond),
		twheel.WithThreadSafe(false),
	)
	if err != nil {
		t.Fatalf("twheel.New: %v", err)
	}
	cfg := control.NewConfigStore()
	d, err := New(w, 10*time.Millisecond, WithConfigStore(cfg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.src.close()

	if got := d.batchSize.Load(); got != 10 {
		t.Fatalf("expected default batch size 10, got %d", got)
	}

	cfg.SetConfig(map[string]any{"periodic.batch_slice_size": 4})
	time.Sleep(10 * time.Millisecond) // OnReload dispatches its listener on a goroutine
	if got := d.batchSize.Load(); got != 4 {
		t.Fatalf("expected batch size updated to 4 after reload, got %d", got)
	}

	control.TriggerHotReloadSync()
	if got := d.batchSize.Load(); got != 4 {
		t.Fatalf("expected batch size to remain 4 after global reload re-reads same store, got %d", got)
	}
}

func TestDriver_RunRejectsConcurrentRun(t *testing.T) {
	src := newFakeTickSource()
	d := newTestDriver(t, src)

	go d.Run(context.Background())
	time.Sleep(10 * time.Millisecond)
	defer d.Stop()

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error on concurrent Run")
	}
}
