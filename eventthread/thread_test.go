// File: eventthread/thread_test.go
package eventthread

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/nic-sdk-core/control"
	"github.com/momentics/nic-sdk-core/updown"
)

var errReactorClosed = errors.New("fake reactor closed")

func newTestThread(t *testing.T, opts ...Option) (*Thread, *fakeReactor) {
	t.Helper()
	react := newFakeReactor()
	allOpts := append([]Option{WithReactor(react)}, opts...)
	th, err := New("test", 1, updown.NewRegistry(), allOpts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return th, react
}

func TestThread_RunSetsReadyAndRunningAndUpRegistry(t *testing.T) {
	reg := updown.NewRegistry()
	react := newFakeReactor()
	th, err := New("test", 2, reg, WithReactor(react))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go th.Run(context.Background(), nil)
	defer func() {
		th.Stop()
		th.Wait()
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if reg.IsUp(2) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !reg.IsUp(2) {
		t.Fatal("expected registry to observe thread up")
	}
}

func TestThread_StopMarksDownInRegistry(t *testing.T) {
	reg := updown.NewRegistry()
	react := newFakeReactor()
	th, _ := New("test", 3, reg, WithReactor(react))

	go th.Run(context.Background(), nil)
	for !reg.IsUp(3) {
		time.Sleep(5 * time.Millisecond)
	}

	th.Stop()
	th.Wait()

	if reg.IsUp(3) {
		t.Fatal("expected registry to observe thread down after Stop")
	}
}

func TestThread_SendMessageDispatchesToHandler(t *testing.T) {
	var got atomic.Value
	done := make(chan struct{}, 1)
	th, _ := newTestThread(t, WithMessageHandler(func(payload any, ctx any) {
		got.Store(payload)
		done <- struct{}{}
	}))

	go th.Run(context.Background(), nil)
	defer func() { th.Stop(); th.Wait() }()

	if err := th.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message dispatch")
	}
	if got.Load() != "hello" {
		t.Fatalf("expected payload 'hello', got %v", got.Load())
	}
}

func TestThread_TimerFiresRepeatedly(t *testing.T) {
	th, _ := newTestThread(t)
	go th.Run(context.Background(), nil)
	defer func() { th.Stop(); th.Wait() }()

	var fires atomic.Int64
	th.TimerStart(5*time.Millisecond, 5*time.Millisecond, func(ctx any) {
		fires.Add(1)
	}, nil)

	time.Sleep(100 * time.Millisecond)
	if fires.Load() < 3 {
		t.Fatalf("expected at least 3 timer fires, got %d", fires.Load())
	}
}

func TestThread_IOWatcherFiresOnReadyEvent(t *testing.T) {
	th, react := newTestThread(t)
	go th.Run(context.Background(), nil)
	defer func() { th.Stop(); th.Wait() }()

	fired := make(chan uintptr, 1)
	w, err := th.IOStart(7, func(fd uintptr, events Event, ctx any) {
		fired <- fd
	}, nil)
	if err != nil {
		t.Fatalf("IOStart: %v", err)
	}
	if w == nil {
		t.Fatal("expected non-nil watcher")
	}

	react.fire(7)

	select {
	case fd := <-fired:
		if fd != 7 {
			t.Fatalf("expected fd 7, got %d", fd)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for io callback")
	}
}

func TestThread_UpDownSubscribeDeliversOnTargetUp(t *testing.T) {
	reg := updown.NewRegistry()
	react1 := newFakeReactor()
	sub, _ := New("sub", 10, reg, WithReactor(react1))
	go sub.Run(context.Background(), nil)
	defer func() { sub.Stop(); sub.Wait() }()

	notified := make(chan uint32, 1)
	if err := sub.UpDownSubscribe(11, func(targetID uint32, ctx any) {
		notified <- targetID
	}, nil); err != nil {
		t.Fatalf("UpDownSubscribe: %v", err)
	}

	if err := reg.Up(11); err != nil {
		t.Fatalf("Up: %v", err)
	}

	select {
	case id := <-notified:
		if id != 11 {
			t.Fatalf("expected target id 11, got %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for up notification")
	}
}

func TestThread_DebugProbesExposeStateAndPlatformInfo(t *testing.T) {
	probes := control.NewDebugProbes()
	th, _ := newTestThread(t, WithDebugProbes(probes))

	go th.Run(context.Background(), nil)
	defer func() { th.Stop(); th.Wait() }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap := probes.DumpState()
		if _, ok := snap["test.state"]; ok {
			if _, ok := snap["platform.cpus"]; ok {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected state and platform probes to be registered once Run started")
}

func TestThread_ConfigStoreTunesCallbackBudget(t *testing.T) {
	cfg := control.NewConfigStore()
	th, _ := newTestThread(t, WithConfigStore(cfg))

	if got := th.budgetNs.Load(); got != int64(250*time.Millisecond) {
		t.Fatalf("expected default budget 250ms, got %dns", got)
	}

	cfg.SetConfig(map[string]any{"eventthread.callback_budget_ms": 5})
	time.Sleep(10 * time.Millisecond)
	if got := th.budgetNs.Load(); got != int64(5*time.Millisecond) {
		t.Fatalf("expected budget updated to 5ms after reload, got %dns", got)
	}
}

func TestThread_RunPassesUserCtxToCallbacks(t *testing.T) {
	type ctxVal struct{ tag string }
	want := &ctxVal{tag: "user-ctx"}

	initSeen := make(chan any, 1)
	exitSeen := make(chan any, 1)
	msgSeen := make(chan any, 1)

	th, _ := newTestThread(t,
		WithInitFunc(func(ctx any) { initSeen <- ctx }),
		WithExitFunc(func(ctx any) { exitSeen <- ctx }),
		WithMessageHandler(func(payload any, ctx any) { msgSeen <- ctx }),
	)

	go th.Run(context.Background(), want)

	select {
	case got := <-initSeen:
		if got != any(want) {
			t.Fatalf("expected initFunc to see %v, got %v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initFunc")
	}

	if err := th.SendMessage("ping"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	select {
	case got := <-msgSeen:
		if got != any(want) {
			t.Fatalf("expected messageCb to see %v, got %v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for messageCb")
	}

	th.Stop()
	th.Wait()
	select {
	case got := <-exitSeen:
		if got != any(want) {
			t.Fatalf("expected exitFunc to see %v, got %v", want, got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for exitFunc")
	}
}

func TestThread_PrepareRunsEveryIteration(t *testing.T) {
	th, _ := newTestThread(t)
	go th.Run(context.Background(), nil)
	defer func() { th.Stop(); th.Wait() }()

	var count atomic.Int64
	th.PrepareStart(func(ctx any) { count.Add(1) }, nil)

	th.TimerStart(5*time.Millisecond, 5*time.Millisecond, func(ctx any) {}, nil)
	time.Sleep(60 * time.Millisecond)

	if count.Load() < 3 {
		t.Fatalf("expected prepare to run several times, got %d", count.Load())
	}
}
