// Package api
// Author: momentics <momentics@gmail.com>
//
// Constants shared across every package of the timing/event-dispatch core,
// defined once so no two packages disagree on a default.

package api

import "time"

const (
	// DefaultSliceInterval is the default timer-wheel slice width.
	DefaultSliceInterval = 250 * time.Millisecond
	// DefaultWheelDuration is the default full-rotation duration (2 minutes).
	DefaultWheelDuration = 120_000 * time.Millisecond
	// DelayDeleteInterval is the deferred-reclamation epoch for deleted entries.
	DelayDeleteInterval = 2000 * time.Millisecond
	// BatchSliceSize bounds the number of slices advanced per periodic-driver tick batch.
	BatchSliceSize = 10
	// CallbackBudget is the threshold past which a dispatch emits a warning trace.
	CallbackBudget = 250 * time.Millisecond
	// MaxThreadID is the highest valid event-thread id.
	MaxThreadID = 255
)
