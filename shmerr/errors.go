// Package shmerr defines the error taxonomy shared by every layer of the
// shared-memory IPC fabric: segment, layout, ring, topic, service and action.
//
// Per-operation errors are always plain returns; construction errors are
// fatal (the returned handle is unusable). The core never logs — it only
// ever returns one of these.
package shmerr

import (
	"errors"
	"fmt"
)

// Kind is the high-level error category, stable across wrapping so callers
// can switch on it with errors.Is against the sentinel Kind values below.
type Kind string

const (
	// InvalidPayload: payload type is not trivially-copyable with standard
	// layout. Fatal at construction.
	InvalidPayload Kind = "invalid_payload"
	// InvalidName: empty or malformed logical name. Fatal at construction.
	InvalidName Kind = "invalid_name"
	// SegmentOpen: cannot create/open the named segment.
	SegmentOpen Kind = "segment_open"
	// SegmentSize: truncation failed or segment size is zero at open.
	SegmentSize Kind = "segment_size"
	// Mapping: mmap failed.
	Mapping Kind = "mapping"
	// NotConnected: operation issued on a handle never mapped, or disconnected.
	NotConnected Kind = "not_connected"
	// NotInitialized: init_flag not observed within timeout.
	NotInitialized Kind = "not_initialized"
	// NoData: subscriber found no slot with a valid timestamp.
	NoData Kind = "no_data"
	// Expired: newest slot's timestamp is older than configured expiry.
	Expired Kind = "expired"
	// Timeout: wait-for/call timed out.
	Timeout Kind = "timeout"
	// ReservationExhausted: publisher could not reserve a slot after retries.
	ReservationExhausted Kind = "reservation_exhausted"
)

// Error is a structured error carrying the failing operation, the logical
// name involved (if any), and the high-level Kind, modeled on go-ublk's
// *ublk.Error (Op/Code/Inner/Unwrap/Is).
type Error struct {
	Op    string // e.g. "segment.Open", "ring.Reserve"
	Name  string // logical name, empty if not applicable
	Kind  Kind
	Inner error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Name != "" {
		msg = fmt.Sprintf("%s (name=%s)", msg, e.Name)
	}
	if e.Inner != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Inner)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is(err, shmerr.InvalidName) style checks as well as
// comparison against another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// Error makes Kind itself satisfy the error interface so that
// errors.Is(err, shmerr.NoData) works without constructing an *Error.
func (k Kind) Error() string { return string(k) }

// New constructs a structured Error.
func New(op, name string, kind Kind, inner error) *Error {
	return &Error{Op: op, Name: name, Kind: kind, Inner: inner}
}
