//go:build linux

package shmsync

/*
#include <pthread.h>
#include <errno.h>
#include <string.h>

// go_mutex_init_shared initializes a pthread_mutex_t in place with the
// PTHREAD_PROCESS_SHARED attribute, so unrelated processes mapping the same
// shared-memory region can lock/unlock it. Returns the pthread errno.
static int go_mutex_init_shared(pthread_mutex_t *m) {
	pthread_mutexattr_t attr;
	int rc = pthread_mutexattr_init(&attr);
	if (rc != 0) {
		return rc;
	}
	rc = pthread_mutexattr_setpshared(&attr, PTHREAD_PROCESS_SHARED);
	if (rc != 0) {
		pthread_mutexattr_destroy(&attr);
		return rc;
	}
	// Robust recovery from a writer that crashed mid-critical-section is
	// explicitly out of scope (spec.md Non-goals); plain default protocol.
	rc = pthread_mutex_init(m, &attr);
	pthread_mutexattr_destroy(&attr);
	return rc;
}

static int go_mutex_lock(pthread_mutex_t *m) {
	return pthread_mutex_lock(m);
}

static int go_mutex_unlock(pthread_mutex_t *m) {
	return pthread_mutex_unlock(m);
}

static int go_mutex_destroy(pthread_mutex_t *m) {
	return pthread_mutex_destroy(m);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// MutexSize is the number of bytes a process-shared mutex occupies inside
// a mapped segment. LayoutCalculator uses this to size the mutex field.
const MutexSize = C.sizeof_pthread_mutex_t

// MutexAlign is the minimum alignment required for a mutex field, honoring
// the spec's "at least 8 bytes on ARM" requirement.
const MutexAlign = 8

// Mutex is a process-shared mutex backed by bytes inside a mapped segment.
// The caller owns the backing memory; Mutex never allocates.
type Mutex struct {
	ptr *C.pthread_mutex_t
}

// MutexAt views MutexSize bytes of buf, starting at offset, as a Mutex.
// buf must remain mapped and stable for the Mutex's lifetime.
func MutexAt(buf []byte, offset int) *Mutex {
	return &Mutex{ptr: (*C.pthread_mutex_t)(unsafe.Pointer(&buf[offset]))}
}

// InitShared initializes the underlying pthread_mutex_t with
// PTHREAD_PROCESS_SHARED. Must be called exactly once, by the first
// participant to create the segment.
func (m *Mutex) InitShared() error {
	if rc := C.go_mutex_init_shared(m.ptr); rc != 0 {
		return fmt.Errorf("pthread_mutex_init: errno %d", int(rc))
	}
	return nil
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() error {
	if rc := C.go_mutex_lock(m.ptr); rc != 0 {
		return fmt.Errorf("pthread_mutex_lock: errno %d", int(rc))
	}
	return nil
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() error {
	if rc := C.go_mutex_unlock(m.ptr); rc != 0 {
		return fmt.Errorf("pthread_mutex_unlock: errno %d", int(rc))
	}
	return nil
}

// Destroy releases any kernel-side resources associated with the mutex.
// Segments are normally torn down by unmapping without calling this
// (crash-safe restart reuses the segment); it exists for completeness.
func (m *Mutex) Destroy() error {
	if rc := C.go_mutex_destroy(m.ptr); rc != 0 {
		return fmt.Errorf("pthread_mutex_destroy: errno %d", int(rc))
	}
	return nil
}

// rawPtr exposes the underlying pointer for Cond's pthread_cond_wait calls.
func (m *Mutex) rawPtr() *C.pthread_mutex_t { return m.ptr }
