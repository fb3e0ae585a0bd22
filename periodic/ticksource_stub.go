//go:build !linux
// +build !linux

// File: periodic/ticksource_stub.go
// Author: momentics <momentics@gmail.com>
//
// Portable tick source using time.Ticker for platforms without timerfd.
// Never reports more than one missed tick per wait, since time.Ticker
// drops ticks rather than accumulating a backlog.

package periodic

import "time"

type tickerSource struct {
	t *time.Ticker
}

func newTickSource(interval time.Duration) (tickSource, error) {
	return &tickerSource{t: time.NewTicker(interval)}, nil
}

func (s *tickerSource) wait() (uint64, error) {
	<-s.t.C
	return 1, nil
}

func (s *tickerSource) close() error {
	s.t.Stop()
	return nil
}
