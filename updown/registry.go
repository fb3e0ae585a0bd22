// File: updown/registry.go
// Package updown tracks thread liveness (up/down) and notifies subscribers
// when a watched thread transitions up. Down transitions are recorded but
// never delivered: a subscriber only ever learns that a target came up,
// never that it went down, mirroring the original's updown_mgr.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package updown

import (
	"fmt"
	"sync"

	"github.com/momentics/nic-sdk-core/api"
)

// NotifyFunc is invoked when a subscribed-to target transitions up. It is
// called either synchronously from Subscribe (if the target is already up)
// or synchronously from Up (as each subscriber is walked) — callers that
// need async delivery (e.g. a cooperative event loop) must make notify a
// thin wrapper that enqueues to their own inbox rather than block here.
type NotifyFunc func(targetID uint32)

// Registry is a process-wide thread up/down tracker. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu          sync.Mutex
	up          map[uint32]bool
	subscribers map[uint32]map[uint32]NotifyFunc // target -> subscriber -> notify
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		up:          make(map[uint32]bool),
		subscribers: make(map[uint32]map[uint32]NotifyFunc),
	}
}

func validThreadID(id uint32) error {
	if id > api.MaxThreadID {
		return fmt.Errorf("updown: %w: thread id %d exceeds max %d", api.ErrInvalidArgument, id, api.MaxThreadID)
	}
	return nil
}

// Subscribe registers subscriberID to be notified when targetID comes up.
// If targetID is already up, notify fires synchronously before Subscribe
// returns. The subscription is recorded unconditionally either way, so a
// later Down+Up cycle on targetID will notify subscriberID again.
func (r *Registry) Subscribe(subscriberID, targetID uint32, notify NotifyFunc) error {
	if subscriberID == targetID {
		return fmt.Errorf("updown: %w: subscriber cannot equal target", api.ErrInvalidArgument)
	}
	if err := validThreadID(subscriberID); err != nil {
		return err
	}
	if err := validThreadID(targetID); err != nil {
		return err
	}
	if notify == nil {
		return fmt.Errorf("updown: %w: nil notify func", api.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.up[targetID] {
		notify(targetID)
	}
	if r.subscribers[targetID] == nil {
		r.subscribers[targetID] = make(map[uint32]NotifyFunc)
	}
	r.subscribers[targetID][subscriberID] = notify
	return nil
}

// Unsubscribe removes subscriberID's registration for targetID, if any.
func (r *Registry) Unsubscribe(subscriberID, targetID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers[targetID], subscriberID)
}

// Up marks threadID up and synchronously notifies every current subscriber.
// Returns api.ErrAlreadyExists if threadID is already up.
func (r *Registry) Up(threadID uint32) error {
	if err := validThreadID(threadID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.up[threadID] {
		return fmt.Errorf("updown: %w: thread %d already up", api.ErrAlreadyExists, threadID)
	}
	r.up[threadID] = true
	for _, notify := range r.subscribers[threadID] {
		notify(threadID)
	}
	return nil
}

// Down marks threadID down. No subscriber is notified of this transition.
func (r *Registry) Down(threadID uint32) error {
	if err := validThreadID(threadID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up[threadID] = false
	return nil
}

// IsUp reports threadID's current recorded status.
func (r *Registry) IsUp(threadID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.up[threadID]
}
