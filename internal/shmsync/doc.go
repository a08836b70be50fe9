// Package shmsync provides process-shared mutex and condition-variable
// primitives that live directly inside a mapped shared-memory region.
//
// Go's sync.Mutex and sync.Cond are per-process futex wrappers keyed off
// goroutine/thread state; they cannot be shared across address spaces. The
// only portable way to synchronize unrelated processes over POSIX shared
// memory is a pthread_mutex_t/pthread_cond_t pair initialized with the
// PTHREAD_PROCESS_SHARED attribute, placed at a fixed offset inside the
// mapping itself. This package wraps that via cgo, following the small
// C-preamble-plus-Go-wrapper style used for libnuma access elsewhere in
// this codebase's lineage (pool/numa_linux.go).
package shmsync
