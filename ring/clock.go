package ring

import (
	"time"

	"golang.org/x/sys/unix"
)

// nowMicros returns the current CLOCK_MONOTONIC time in microseconds. Slot
// commit timestamps are monotonic with respect to a single writer's clock
// but unordered across writers/machines (spec.md §3 invariants) — using the
// monotonic clock rather than wall time keeps ordering immune to clock
// adjustments on the writer's host.
func nowMicros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux; fall back to wall
		// time rather than panicking in a hot publish path.
		return uint64(time.Now().UnixMicro())
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000
}
