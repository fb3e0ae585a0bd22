// File: eventthread/thread.go
package eventthread

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/nic-sdk-core/api"
	"github.com/momentics/nic-sdk-core/control"
	concurrency "github.com/momentics/nic-sdk-core/core/concurrency"
	"github.com/momentics/nic-sdk-core/ipc"
	"github.com/momentics/nic-sdk-core/logx"
	"github.com/momentics/nic-sdk-core/pool"
	"github.com/momentics/nic-sdk-core/reactor"
	"github.com/momentics/nic-sdk-core/thread"
	"github.com/momentics/nic-sdk-core/updown"
)

const defaultInboxCapacity = 4096
const defaultPollInterval = 100 * time.Millisecond

// config collects the construction-time parameters for a Thread.
type config struct {
	coresMask     uint64
	inboxCapacity int
	syncIPC       bool
	initFunc      InitFunc
	exitFunc      ExitFunc
	messageCb     MessageHandler
	ipcInitSync   ipc.InitFunc
	ipcInitAsync  ipc.InitFunc
	reactor       reactor.EventReactor
	metrics       *control.MetricsRegistry
	debug         *control.DebugProbes
	cfgStore      *control.ConfigStore
}

// Option configures a Thread at construction time.
type Option func(*config)

func WithCoresMask(mask uint64) Option            { return func(c *config) { c.coresMask = mask } }
func WithInboxCapacity(n int) Option              { return func(c *config) { c.inboxCapacity = n } }
func WithSyncIPC(syncMode bool) Option            { return func(c *config) { c.syncIPC = syncMode } }
func WithInitFunc(fn InitFunc) Option             { return func(c *config) { c.initFunc = fn } }
func WithExitFunc(fn ExitFunc) Option             { return func(c *config) { c.exitFunc = fn } }
func WithMessageHandler(fn MessageHandler) Option { return func(c *config) { c.messageCb = fn } }
// WithSyncIPCInit registers the init hook invoked when WithSyncIPC(true);
// the transport is expected to complete its handshake before Run proceeds.
func WithSyncIPCInit(fn ipc.InitFunc) Option { return func(c *config) { c.ipcInitSync = fn } }

// WithAsyncIPCInit registers the init hook invoked when WithSyncIPC(false)
// (the default); the transport may complete its handshake in the
// background.
func WithAsyncIPCInit(fn ipc.InitFunc) Option { return func(c *config) { c.ipcInitAsync = fn } }

// WithReactor overrides the default platform reactor, primarily for tests.
func WithReactor(r reactor.EventReactor) Option { return func(c *config) { c.reactor = r } }

// WithMetrics records callback-budget overruns (the callback kind and the
// time of the overrun) into reg.
func WithMetrics(reg *control.MetricsRegistry) Option { return func(c *config) { c.metrics = reg } }

// WithDebugProbes registers "<name>.state" and "<name>.last_heartbeat"
// probes reflecting this thread's lifecycle state.
func WithDebugProbes(probes *control.DebugProbes) Option { return func(c *config) { c.debug = probes } }

// WithConfigStore lets the "eventthread.callback_budget_ms" key be tuned at
// runtime: every OnReload (and every process-wide control.TriggerHotReload)
// re-reads it and updates the threshold warnIfOverBudget compares against.
func WithConfigStore(cs *control.ConfigStore) Option { return func(c *config) { c.cfgStore = cs } }

// Thread is a single cooperative event-dispatch OS thread: one goroutine
// owns its watchers and inbox, reachable concurrently only via SendMessage
// and the up/down registry.
type Thread struct {
	base     *thread.Base
	id       uint32
	name     string
	registry *updown.Registry

	inbox   *concurrency.LockFreeQueue[envelope]
	wakeCh  chan struct{}
	react   reactor.EventReactor
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.Mutex
	ioByFd   map[uintptr]*IOWatcher
	timers   []*TimerWatcher
	prepares []*PrepareWatcher

	updownCbs  map[uint32]UpDownHandler
	updownCtxs map[uint32]any

	messageCb    MessageHandler
	initFunc     InitFunc
	exitFunc     ExitFunc
	ipcInitSync  ipc.InitFunc
	ipcInitAsync ipc.InitFunc
	syncIPC      bool
	userCtx      any
	metrics      *control.MetricsRegistry
	debug        *control.DebugProbes
	budgetNs     atomic.Int64

	ioPool      *pool.SyncPool[*IOWatcher]
	timerPool   *pool.SyncPool[*TimerWatcher]
	preparePool *pool.SyncPool[*PrepareWatcher]

	loopNowMu sync.RWMutex
	loopNow   time.Time
}

// New constructs a Thread. id must be <= api.MaxThreadID. registry is the
// process-wide up/down registry this thread participates in.
func New(name string, id uint32, registry *updown.Registry, opts ...Option) (*Thread, error) {
	c := config{
		inboxCapacity: defaultInboxCapacity,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if registry == nil {
		return nil, fmt.Errorf("eventthread: %w: nil registry", api.ErrInvalidArgument)
	}

	base, err := thread.NewBase(name, id, c.coresMask)
	if err != nil {
		return nil, fmt.Errorf("eventthread: %w", err)
	}

	react := c.reactor
	if react == nil {
		react, err = reactor.NewReactor()
		if err != nil {
			return nil, fmt.Errorf("eventthread: constructing reactor: %w", err)
		}
	}

	th := &Thread{
		base:       base,
		id:         id,
		name:       name,
		registry:   registry,
		inbox:      concurrency.NewLockFreeQueue[envelope](c.inboxCapacity),
		wakeCh:     make(chan struct{}, 1),
		react:      react,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		ioByFd:     make(map[uintptr]*IOWatcher),
		updownCbs:  make(map[uint32]UpDownHandler),
		updownCtxs: make(map[uint32]any),
		messageCb:    c.messageCb,
		initFunc:     c.initFunc,
		exitFunc:     c.exitFunc,
		ipcInitSync:  c.ipcInitSync,
		ipcInitAsync: c.ipcInitAsync,
		syncIPC:      c.syncIPC,
		metrics:      c.metrics,
		debug:        c.debug,
	}
	th.ioPool = pool.NewSyncPool(func() *IOWatcher { return &IOWatcher{} })
	th.timerPool = pool.NewSyncPool(func() *TimerWatcher { return &TimerWatcher{} })
	th.preparePool = pool.NewSyncPool(func() *PrepareWatcher { return &PrepareWatcher{} })
	th.budgetNs.Store(int64(api.CallbackBudget))

	if c.cfgStore != nil {
		refresh := func() {
			snap := c.cfgStore.GetSnapshot()
			if v, ok := snap["eventthread.callback_budget_ms"].(int); ok && v > 0 {
				th.budgetNs.Store(int64(v) * int64(time.Millisecond))
			}
		}
		refresh()
		c.cfgStore.OnReload(refresh)
		control.RegisterReloadHook(refresh)
	}

	return th, nil
}

// ID returns the thread's configured identifier.
func (t *Thread) ID() uint32 { return t.id }

// State returns the thread's current lifecycle stage.
func (t *Thread) State() thread.State { return t.base.State() }

// Now returns a cached timestamp refreshed once per loop iteration. Valid
// only when called from within a callback running on this thread's own
// goroutine; callers outside that context should use time.Now directly,
// matching the original's timestamp_now falling back to a global clock.
func (t *Thread) Now() time.Time {
	t.loopNowMu.RLock()
	defer t.loopNowMu.RUnlock()
	return t.loopNow
}

// SendMessage enqueues payload for delivery to this thread's
// MessageHandler, waking the loop if it is blocked on readiness. Safe to
// call from any goroutine.
func (t *Thread) SendMessage(payload any) error {
	if !t.inbox.Enqueue(envelope{kind: msgUser, payload: payload}) {
		return fmt.Errorf("eventthread: %w: inbox full", api.ErrResourceExhausted)
	}
	t.wake()
	return nil
}

func (t *Thread) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

// UpDownSubscribe registers cb to be invoked (on this thread's own
// goroutine, via the inbox) when targetID transitions up.
func (t *Thread) UpDownSubscribe(targetID uint32, cb UpDownHandler, ctx any) error {
	t.mu.Lock()
	if _, exists := t.updownCbs[targetID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("eventthread: %w: already subscribed to thread %d", api.ErrAlreadyExists, targetID)
	}
	t.updownCbs[targetID] = cb
	t.updownCtxs[targetID] = ctx
	t.mu.Unlock()

	return t.registry.Subscribe(t.id, targetID, func(up uint32) {
		t.inbox.Enqueue(envelope{kind: msgUpDown, threadID: up})
		t.wake()
	})
}

func (t *Thread) dispatchEnvelope(e envelope) {
	start := time.Now()
	switch e.kind {
	case msgUser:
		if t.messageCb != nil {
			t.messageCb(e.payload, t.userCtx)
		}
	case msgUpDown:
		t.mu.Lock()
		cb := t.updownCbs[e.threadID]
		ctx := t.updownCtxs[e.threadID]
		t.mu.Unlock()
		if cb != nil {
			cb(e.threadID, ctx)
		}
	}
	t.warnIfOverBudget("message callback", time.Since(start))
}

func (t *Thread) warnIfOverBudget(kind string, elapsed time.Duration) {
	if elapsed > time.Duration(t.budgetNs.Load()) {
		logx.Warn("eventthread: callback exceeded budget", "thread", t.name, "kind", kind, "elapsed", elapsed)
		if t.metrics != nil {
			t.metrics.Set("eventthread."+t.name+".budget_exceeded_kind", kind)
			t.metrics.Set("eventthread."+t.name+".budget_exceeded_at", time.Now())
		}
	}
}

// drainInbox moves every pending envelope into batch (a non-concurrent,
// growable ring sized for exactly this iteration's backlog) before
// dispatching, so a slow callback mid-batch cannot be starved by envelopes
// enqueued concurrently while dispatch is in progress.
func (t *Thread) drainInbox(batch *queue.Queue) {
	for {
		e, ok := t.inbox.Dequeue()
		if !ok {
			break
		}
		batch.Add(e)
	}
	for batch.Length() > 0 {
		e := batch.Remove().(envelope)
		t.dispatchEnvelope(e)
	}
}

func (t *Thread) runPrepares() {
	t.mu.Lock()
	prepares := make([]*PrepareWatcher, len(t.prepares))
	copy(prepares, t.prepares)
	t.mu.Unlock()

	for _, p := range prepares {
		if !p.active {
			continue
		}
		start := time.Now()
		p.cb(p.ctx)
		t.warnIfOverBudget("prepare callback", time.Since(start))
	}
}

func (t *Thread) nextTimerDeadline(now time.Time) (time.Duration, *TimerWatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var earliest *TimerWatcher
	for _, tw := range t.timers {
		if !tw.active {
			continue
		}
		if earliest == nil || tw.deadline.Before(earliest.deadline) {
			earliest = tw
		}
	}
	if earliest == nil {
		return defaultPollInterval, nil
	}
	d := earliest.deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	if d > defaultPollInterval {
		d = defaultPollInterval
	}
	return d, earliest
}

func (t *Thread) fireDueTimers(now time.Time) {
	t.mu.Lock()
	due := make([]*TimerWatcher, 0, len(t.timers))
	for _, tw := range t.timers {
		if tw.active && !tw.deadline.After(now) {
			due = append(due, tw)
		}
	}
	t.mu.Unlock()

	for _, tw := range due {
		start := time.Now()
		tw.cb(tw.ctx)
		t.warnIfOverBudget("timer callback", time.Since(start))

		t.mu.Lock()
		if tw.active {
			if tw.repeat > 0 {
				tw.deadline = time.Now().Add(tw.repeat)
			} else {
				tw.active = false
			}
		}
		t.mu.Unlock()
	}
}

type ioReadyPump struct {
	react reactor.EventReactor
	out   chan reactor.Event
	done  chan struct{}
}

func startIOPump(react reactor.EventReactor) *ioReadyPump {
	p := &ioReadyPump{react: react, out: make(chan reactor.Event, 64), done: make(chan struct{})}
	go func() {
		defer close(p.done)
		buf := make([]reactor.Event, 64)
		for {
			n, err := react.Wait(buf)
			if err != nil {
				return
			}
			for i := 0; i < n; i++ {
				select {
				case p.out <- buf[i]:
				case <-p.done:
					return
				}
			}
		}
	}()
	return p
}

// Run executes the thread's cooperative loop until ctx is canceled or Stop
// is called. Mirrors event_thread::start(user_ctx)/run_: userCtx is stashed
// for the duration of the run and handed to initFunc, exitFunc, and every
// MessageHandler dispatch, then init hooks, set-ready, up notification,
// loop until stop, then exit hooks and down notification.
func (t *Thread) Run(ctx context.Context, userCtx any) error {
	defer close(t.doneCh)

	t.userCtx = userCtx

	if err := t.base.Init(); err != nil {
		return err
	}

	infra := ipc.Infra{
		FDWatch: func(fd uintptr, cb ipc.FDHandler, ictx any) (any, error) {
			return t.IOStart(fd, func(fd uintptr, ev Event, c any) { cb(fd, ictx) }, ictx)
		},
		FDUnwatch: func(w any) error {
			t.IOStop(w.(*IOWatcher))
			return nil
		},
		TimerAdd: func(interval time.Duration, cb ipc.TimerHandler, ictx any) (any, error) {
			w := t.TimerStart(interval, interval, func(c any) { cb(ictx) }, ictx)
			return w, nil
		},
		TimerDel: func(w any) error {
			t.TimerStop(w.(*TimerWatcher))
			return nil
		},
	}
	ipcInit := t.ipcInitAsync
	if t.syncIPC {
		ipcInit = t.ipcInitSync
	}
	if ipcInit != nil {
		if err := ipcInit(t.id, infra); err != nil {
			return fmt.Errorf("eventthread: ipc init: %w", err)
		}
	}

	if t.debug != nil {
		t.debug.RegisterProbe(t.name+".state", func() any { return t.base.State().String() })
		t.debug.RegisterProbe(t.name+".last_heartbeat", func() any { return t.base.LastHeartbeat() })
		control.RegisterPlatformProbes(t.debug)
	}

	if t.initFunc != nil {
		t.initFunc(t.userCtx)
	}
	t.base.SetReady(true)

	if err := t.registry.Up(t.id); err != nil {
		logx.Warn("eventthread: registry.Up failed", "thread", t.name, "err", err)
	}
	t.base.SetRunning(true)

	pump := startIOPump(t.react)
	defer func() {
		_ = t.react.Close()
		<-pump.done
	}()

	batch := queue.New()

	for {
		t.base.CheckAndSuspend()

		select {
		case <-ctx.Done():
			t.shutdown()
			return nil
		case <-t.stopCh:
			t.shutdown()
			return nil
		default:
		}

		t.runPrepares()
		t.drainInbox(batch)
		t.base.PunchHeartbeat()

		now := time.Now()
		t.loopNowMu.Lock()
		t.loopNow = now
		t.loopNowMu.Unlock()

		timeout, _ := t.nextTimerDeadline(now)
		timer := time.NewTimer(timeout)

		select {
		case <-ctx.Done():
			timer.Stop()
			t.shutdown()
			return nil
		case <-t.stopCh:
			timer.Stop()
			t.shutdown()
			return nil
		case <-t.wakeCh:
			timer.Stop()
		case ev := <-pump.out:
			timer.Stop()
			t.mu.Lock()
			w := t.ioByFd[ev.Fd]
			t.mu.Unlock()
			if w != nil && w.active {
				start := time.Now()
				w.cb(ev.Fd, EventRead|EventWrite, w.ctx)
				t.warnIfOverBudget("io callback", time.Since(start))
			}
		case <-timer.C:
		}

		t.fireDueTimers(time.Now())
	}
}

func (t *Thread) shutdown() {
	t.base.SetRunning(false)
	if t.exitFunc != nil {
		t.exitFunc(t.userCtx)
	}
	if err := t.registry.Down(t.id); err != nil {
		logx.Warn("eventthread: registry.Down failed", "thread", t.name, "err", err)
	}
}

// Stop signals Run to return. If the thread is currently suspended, it is
// resumed first so it can observe the stop.
func (t *Thread) Stop() {
	if t.base.Suspended() {
		t.base.ResumeReq()
	}
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}

// Wait blocks until Run has returned.
func (t *Thread) Wait() {
	<-t.doneCh
}

var _ api.GracefulShutdown = (*Thread)(nil)

// Shutdown stops the thread and waits for its loop to exit, satisfying
// api.GracefulShutdown.
func (t *Thread) Shutdown() error {
	t.Stop()
	t.Wait()
	return nil
}
