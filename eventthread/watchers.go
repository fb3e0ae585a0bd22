// File: eventthread/watchers.go
package eventthread

import "time"

// IOStart registers fd for readiness notification. Must be called from
// this thread's own Run goroutine (directly, or from a callback it is
// running). The watcher is drawn from a sync.Pool and returned to it in
// IOStop, since fd registration/deregistration churns in the hot loop.
func (t *Thread) IOStart(fd uintptr, cb IOHandler, ctx any) (*IOWatcher, error) {
	w := t.ioPool.Get()
	w.fd, w.cb, w.ctx, w.active = fd, cb, ctx, true

	t.mu.Lock()
	t.ioByFd[fd] = w
	t.mu.Unlock()

	if err := t.react.Register(fd, fd); err != nil {
		t.mu.Lock()
		delete(t.ioByFd, fd)
		t.mu.Unlock()
		t.ioPool.Put(w)
		return nil, err
	}
	return w, nil
}

// IOStop deregisters w and returns it to the pool.
func (t *Thread) IOStop(w *IOWatcher) {
	t.mu.Lock()
	w.active = false
	delete(t.ioByFd, w.fd)
	t.mu.Unlock()
	t.ioPool.Put(w)
}

// TimerStart registers a timer firing after initialDelay, then every
// repeat thereafter (repeat == 0 means one-shot). The watcher is drawn
// from a sync.Pool and returned to it in TimerStop.
func (t *Thread) TimerStart(initialDelay, repeat time.Duration, cb TimerHandler, ctx any) *TimerWatcher {
	w := t.timerPool.Get()
	w.initialDelay = initialDelay
	w.repeat = repeat
	w.cb = cb
	w.ctx = ctx
	w.active = true
	w.deadline = time.Now().Add(initialDelay)

	t.mu.Lock()
	t.timers = append(t.timers, w)
	t.mu.Unlock()
	t.wake()
	return w
}

// TimerStop deregisters w and returns it to the pool.
func (t *Thread) TimerStop(w *TimerWatcher) {
	t.mu.Lock()
	w.active = false
	for i, tw := range t.timers {
		if tw == w {
			t.timers = append(t.timers[:i], t.timers[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.timerPool.Put(w)
}

// TimerAgain resets w's deadline to now+repeat (or now+initialDelay if
// repeat is zero), matching ev_timer_again.
func (t *Thread) TimerAgain(w *TimerWatcher) {
	t.mu.Lock()
	if w.repeat > 0 {
		w.deadline = time.Now().Add(w.repeat)
	} else {
		w.deadline = time.Now().Add(w.initialDelay)
	}
	t.mu.Unlock()
	t.wake()
}

// PrepareStart registers cb to run once per loop iteration before blocking
// on readiness. The watcher is drawn from a sync.Pool and returned to it
// in PrepareStop.
func (t *Thread) PrepareStart(cb PrepareHandler, ctx any) *PrepareWatcher {
	p := t.preparePool.Get()
	p.cb, p.ctx, p.active = cb, ctx, true

	t.mu.Lock()
	t.prepares = append(t.prepares, p)
	t.mu.Unlock()
	return p
}

// PrepareStop deregisters p and returns it to the pool.
func (t *Thread) PrepareStop(p *PrepareWatcher) {
	t.mu.Lock()
	p.active = false
	for i, pw := range t.prepares {
		if pw == p {
			t.prepares = append(t.prepares[:i], t.prepares[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	t.preparePool.Put(p)
}
