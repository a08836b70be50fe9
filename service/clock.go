package service

import (
	"time"

	"golang.org/x/sys/unix"
)

// nowMicros returns the current CLOCK_MONOTONIC time in microseconds,
// mirroring ring.nowMicros: request/response commit timestamps only need to
// be monotonic within a single writer, never compared across machines.
func nowMicros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Now().UnixMicro())
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000
}
