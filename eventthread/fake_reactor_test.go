// File: eventthread/fake_reactor_test.go
package eventthread

import (
	"sync"

	"github.com/momentics/nic-sdk-core/reactor"
)

// fakeReactor is a minimal in-memory EventReactor for tests, avoiding any
// dependency on a real platform epoll/IOCP backend.
type fakeReactor struct {
	mu     sync.Mutex
	ready  chan reactor.Event
	closed bool
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{ready: make(chan reactor.Event, 16)}
}

func (f *fakeReactor) Register(fd uintptr, userData uintptr) error {
	return nil
}

func (f *fakeReactor) Wait(events []reactor.Event) (int, error) {
	ev, ok := <-f.ready
	if !ok {
		return 0, errReactorClosed
	}
	events[0] = ev
	return 1, nil
}

func (f *fakeReactor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ready)
	}
	return nil
}

func (f *fakeReactor) fire(fd uintptr) {
	f.ready <- reactor.Event{Fd: fd, UserData: fd}
}
