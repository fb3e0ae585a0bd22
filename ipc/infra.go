// File: ipc/infra.go
// Package ipc defines the infrastructure vtable an event thread hands to an
// IPC transport's init hook, and the init hook contract itself. The
// transport's wire format and implementation are out of scope: this
// package only carries the shape of the handoff, grounded on
// original_source/event_thread.cc's create_ipc_fd_watcher/
// delete_ipc_fd_watcher/create_ipc_timer_watcher/delete_ipc_timer_watcher
// vtable wiring.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ipc

import "time"

// FDHandler is invoked when a watched fd becomes ready. It is not told
// which readiness direction fired.
type FDHandler func(fd uintptr, ctx any)

// TimerHandler is invoked when a repeating IPC timer fires.
type TimerHandler func(ctx any)

// FDWatchFunc registers fd for readiness notification, invoking cb with
// ctx when it fires. Returns an opaque watcher handle.
type FDWatchFunc func(fd uintptr, cb FDHandler, ctx any) (any, error)

// FDUnwatchFunc deregisters a watcher previously returned by FDWatchFunc.
type FDUnwatchFunc func(watcher any) error

// TimerAddFunc registers a repeating timer firing every interval, invoking
// cb with ctx. Returns an opaque watcher handle.
type TimerAddFunc func(interval time.Duration, cb TimerHandler, ctx any) (any, error)

// TimerDelFunc deregisters a timer previously returned by TimerAddFunc.
type TimerDelFunc func(watcher any) error

// Infra is the vtable an event thread constructs once per Run() and hands
// to an InitFunc. Every field must be non-nil before use.
type Infra struct {
	FDWatch   FDWatchFunc
	FDUnwatch FDUnwatchFunc
	TimerAdd  TimerAddFunc
	TimerDel  TimerDelFunc
}

// InitFunc is the shape of ipc_init_sync/ipc_init_async: given the owning
// thread's id and its Infra vtable, the transport wires itself into the
// event loop and returns (or an error if it could not).
type InitFunc func(threadID uint32, infra Infra) error
