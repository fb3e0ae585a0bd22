//go:build linux
// +build linux

// File: periodic/ticksource_linux.go
// Author: momentics <momentics@gmail.com>
//
// timerfd-backed tick source, matching the original's use of a kernel
// periodic timer read in a dedicated thread: each read returns the number
// of ticks that elapsed (including any missed while the thread was not
// scheduled), and EINTR is retried silently.

package periodic

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

type timerfdSource struct {
	fd int
}

func newTickSource(interval time.Duration) (tickSource, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, err
	}
	spec := itimerspecFromDuration(interval)
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &timerfdSource{fd: fd}, nil
}

func itimerspecFromDuration(d time.Duration) unix.ItimerSpec {
	sec := int64(d / time.Second)
	nsec := int64(d % time.Second)
	ts := unix.NsecToTimespec(sec*int64(time.Second) + nsec)
	return unix.ItimerSpec{Interval: ts, Value: ts}
}

func (t *timerfdSource) wait() (uint64, error) {
	var buf [8]byte
	for {
		n, err := unix.Read(t.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n != 8 {
			continue
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
}

func (t *timerfdSource) close() error {
	return unix.Close(t.fd)
}
