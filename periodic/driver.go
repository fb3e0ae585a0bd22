// File: periodic/driver.go
// Package periodic runs a dedicated tick source that drives a twheel.Wheel
// on a fixed cadence, batching slice advances so a long scheduling gap
// (suspend, debugger pause, GC stall) is caught up without starving the
// driver's own heartbeat.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package periodic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/nic-sdk-core/api"
	"github.com/momentics/nic-sdk-core/control"
	"github.com/momentics/nic-sdk-core/logx"
	"github.com/momentics/nic-sdk-core/twheel"
)

// tickSource abstracts the OS primitive that wakes the driver. Linux uses
// timerfd; other platforms fall back to time.Ticker.
type tickSource interface {
	// wait blocks until the next tick and returns how many ticks elapsed
	// since the previous call (>1 on a missed/delayed wakeup).
	wait() (missed uint64, err error)
	close() error
}

// Driver owns a Wheel and a dedicated goroutine that advances it on a fixed
// cadence, mirroring the original's periodic thread: batches of at most
// api.BatchSliceSize slices per wakeup, with a heartbeat punched between
// batches so a liveness watchdog never sees it as stuck mid-catch-up.
type Driver struct {
	wheel     *twheel.Wheel
	src       tickSource
	interval  time.Duration
	heartbeat func()
	metrics   *control.MetricsRegistry
	batchSize atomic.Int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Driver at construction time.
type Option func(*driverConfig)

type driverConfig struct {
	heartbeat func()
	metrics   *control.MetricsRegistry
	debug     *control.DebugProbes
	cfg       *control.ConfigStore
}

// WithHeartbeat registers a callback invoked between batches of slice
// advances, intended for a liveness/watchdog hook (e.g. thread.Base.PunchHeartbeat).
func WithHeartbeat(fn func()) Option {
	return func(c *driverConfig) { c.heartbeat = fn }
}

// WithMetrics records per-batch tick counters into reg (tick count, wheel
// entry count, last-tick wallclock).
func WithMetrics(reg *control.MetricsRegistry) Option {
	return func(c *driverConfig) { c.metrics = reg }
}

// WithDebugProbes registers a "periodic.wheel.entries" probe reading the
// driven wheel's live entry count.
func WithDebugProbes(probes *control.DebugProbes) Option {
	return func(c *driverConfig) { c.debug = probes }
}

// WithConfigStore lets the "periodic.batch_slice_size" key be tuned at
// runtime: every OnReload (and every process-wide control.TriggerHotReload)
// re-reads it and updates the batch size used by the next catch-up loop.
func WithConfigStore(cs *control.ConfigStore) Option {
	return func(c *driverConfig) { c.cfg = cs }
}

// New constructs a Driver bound to wheel, ticking every interval.
func New(wheel *twheel.Wheel, interval time.Duration, opts ...Option) (*Driver, error) {
	if wheel == nil {
		return nil, fmt.Errorf("periodic: %w: nil wheel", api.ErrInvalidArgument)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("periodic: %w: non-positive interval", api.ErrInvalidArgument)
	}
	c := driverConfig{heartbeat: func() {}}
	for _, opt := range opts {
		opt(&c)
	}

	src, err := newTickSource(interval)
	if err != nil {
		return nil, fmt.Errorf("periodic: creating tick source: %w", err)
	}

	if c.debug != nil {
		c.debug.RegisterProbe("periodic.wheel.entries", func() any { return wheel.NumEntries() })
	}

	d := &Driver{
		wheel:     wheel,
		src:       src,
		interval:  interval,
		heartbeat: c.heartbeat,
		metrics:   c.metrics,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	d.batchSize.Store(api.BatchSliceSize)

	if c.cfg != nil {
		refresh := func() {
			snap := c.cfg.GetSnapshot()
			if v, ok := snap["periodic.batch_slice_size"].(int); ok && v > 0 {
				d.batchSize.Store(int64(v))
			}
		}
		refresh()
		c.cfg.OnReload(refresh)
		control.RegisterReloadHook(refresh)
	}

	return d, nil
}

// Run blocks, driving the wheel until ctx is canceled or Stop is called.
// Mirrors periodic_thread_run: each wakeup's missed-tick count is split
// into batches of api.BatchSliceSize slices, with a heartbeat between
// batches. A tickSource read error other than a transient interrupt ends
// the loop.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("periodic: %w: driver already running", api.ErrAlreadyExists)
	}
	d.running = true
	d.mu.Unlock()

	defer close(d.doneCh)
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	var totalTicks uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stopCh:
			return nil
		default:
		}

		missed, err := d.src.wait()
		if err != nil {
			logx.Warn("periodic: tick source read failed, stopping driver", "err", err)
			return err
		}
		if missed == 0 {
			missed = 1
		}

		for missed > 0 {
			batch := missed
			max := uint64(d.batchSize.Load())
			if max == 0 {
				max = api.BatchSliceSize
			}
			if batch > max {
				batch = max
			}
			d.wheel.Tick(time.Duration(batch) * d.interval)
			missed -= batch
			totalTicks += batch
			if d.metrics != nil {
				d.metrics.Set("periodic.ticks_processed", totalTicks)
				d.metrics.Set("periodic.wheel_entries", d.wheel.NumEntries())
				d.metrics.Set("periodic.last_tick", time.Now())
			}
			d.heartbeat()
		}
	}
}

var _ api.GracefulShutdown = (*Driver)(nil)

// Shutdown stops the driver and releases its tick source, satisfying
// api.GracefulShutdown.
func (d *Driver) Shutdown() error {
	d.Stop()
	return nil
}

// Stop signals Run to return and waits for it to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	close(d.stopCh)
	_ = d.src.close()
	<-d.doneCh
}

// Schedule forwards to the underlying wheel's AddTimer, matching the
// original's timer_schedule forwarding function.
func (d *Driver) Schedule(timerID uint32, timeout time.Duration, ctx any, cb twheel.Callback, periodic bool, initialDelay time.Duration) twheel.Handle {
	if d.wheel == nil {
		return nil
	}
	return d.wheel.AddTimer(timerID, timeout, ctx, cb, periodic, initialDelay)
}

// Delete forwards to the underlying wheel's DelTimer.
func (d *Driver) Delete(h twheel.Handle) any {
	if d.wheel == nil {
		return nil
	}
	return d.wheel.DelTimer(h)
}

// Update forwards to the underlying wheel's UpdTimer.
func (d *Driver) Update(h twheel.Handle, timeout time.Duration, periodic bool, ctx any) twheel.Handle {
	if d.wheel == nil {
		return nil
	}
	return d.wheel.UpdTimer(h, timeout, periodic, ctx)
}

// UpdateCtx forwards to the underlying wheel's UpdTimerCtx.
func (d *Driver) UpdateCtx(h twheel.Handle, ctx any) twheel.Handle {
	if d.wheel == nil {
		return nil
	}
	return d.wheel.UpdTimerCtx(h, ctx)
}

// TimeoutRemaining forwards to the underlying wheel's GetTimeoutRemaining.
func (d *Driver) TimeoutRemaining(h twheel.Handle) time.Duration {
	if d.wheel == nil {
		return 0
	}
	return d.wheel.GetTimeoutRemaining(h)
}
