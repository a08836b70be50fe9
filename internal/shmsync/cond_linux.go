//go:build linux

package shmsync

/*
#include <pthread.h>
#include <time.h>
#include <errno.h>

// go_cond_init_shared initializes a pthread_cond_t in place with
// PTHREAD_PROCESS_SHARED and CLOCK_REALTIME (the spec's wait-for-update
// deadline is derived from wall-clock realtime, so the condvar's clock
// attribute must match what callers pass to pthread_cond_timedwait).
static int go_cond_init_shared(pthread_cond_t *c) {
	pthread_condattr_t attr;
	int rc = pthread_condattr_init(&attr);
	if (rc != 0) {
		return rc;
	}
	rc = pthread_condattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) {
		pthread_condattr_destroy(&attr);
		return rc;
	}
	rc = pthread_condattr_setclock(&attr, CLOCK_REALTIME);
	if (rc != 0) {
		pthread_condattr_destroy(&attr);
		return rc;
	}
	rc = pthread_cond_init(c, &attr);
	pthread_condattr_destroy(&attr);
	return rc;
}

static int go_cond_wait(pthread_cond_t *c, pthread_mutex_t *m) {
	return pthread_cond_wait(c, m);
}

static int go_cond_timedwait(pthread_cond_t *c, pthread_mutex_t *m, long sec, long nsec) {
	struct timespec ts;
	ts.tv_sec = sec;
	ts.tv_nsec = nsec;
	return pthread_cond_timedwait(c, m, &ts);
}

static int go_cond_broadcast(pthread_cond_t *c) {
	return pthread_cond_broadcast(c);
}

static int go_cond_signal(pthread_cond_t *c) {
	return pthread_cond_signal(c);
}

static int go_cond_destroy(pthread_cond_t *c) {
	return pthread_cond_destroy(c);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

// CondSize is the number of bytes a process-shared condvar occupies inside
// a mapped segment.
const CondSize = C.sizeof_pthread_cond_t

// CondAlign is the minimum alignment required for a condvar field.
const CondAlign = 8

// ErrCondTimedOut is returned by Cond.TimedWaitAbs when the deadline elapses
// before the condvar is signaled.
var ErrCondTimedOut = errors.New("shmsync: condvar wait timed out")

// Cond is a process-shared condition variable backed by bytes inside a
// mapped segment.
type Cond struct {
	ptr *C.pthread_cond_t
}

// CondAt views CondSize bytes of buf, starting at offset, as a Cond.
func CondAt(buf []byte, offset int) *Cond {
	return &Cond{ptr: (*C.pthread_cond_t)(unsafe.Pointer(&buf[offset]))}
}

// InitShared initializes the underlying pthread_cond_t with
// PTHREAD_PROCESS_SHARED and a CLOCK_REALTIME clock attribute. Must be
// called exactly once, by the first participant to create the segment.
func (c *Cond) InitShared() error {
	if rc := C.go_cond_init_shared(c.ptr); rc != 0 {
		return fmt.Errorf("pthread_cond_init: errno %d", int(rc))
	}
	return nil
}

// Wait blocks on the condvar under the held mutex until woken. The caller
// must hold m.
func (c *Cond) Wait(m *Mutex) error {
	if rc := C.go_cond_wait(c.ptr, m.rawPtr()); rc != 0 {
		return fmt.Errorf("pthread_cond_wait: errno %d", int(rc))
	}
	return nil
}

// TimedWaitAbs blocks on the condvar under the held mutex until woken or
// until the absolute deadline (wall-clock realtime) passes. The caller must
// hold m. Returns ErrCondTimedOut (not an error) on deadline expiry.
func (c *Cond) TimedWaitAbs(m *Mutex, deadline time.Time) error {
	sec := deadline.Unix()
	nsec := int64(deadline.Nanosecond())
	rc := C.go_cond_timedwait(c.ptr, m.rawPtr(), C.long(sec), C.long(nsec))
	switch int(rc) {
	case 0:
		return nil
	case int(C.ETIMEDOUT):
		return ErrCondTimedOut
	default:
		return fmt.Errorf("pthread_cond_timedwait: errno %d", int(rc))
	}
}

// Broadcast wakes all waiters.
func (c *Cond) Broadcast() error {
	if rc := C.go_cond_broadcast(c.ptr); rc != 0 {
		return fmt.Errorf("pthread_cond_broadcast: errno %d", int(rc))
	}
	return nil
}

// Signal wakes a single waiter.
func (c *Cond) Signal() error {
	if rc := C.go_cond_signal(c.ptr); rc != 0 {
		return fmt.Errorf("pthread_cond_signal: errno %d", int(rc))
	}
	return nil
}

// Destroy releases any kernel-side resources associated with the condvar.
func (c *Cond) Destroy() error {
	if rc := C.go_cond_destroy(c.ptr); rc != 0 {
		return fmt.Errorf("pthread_cond_destroy: errno %d", int(rc))
	}
	return nil
}
