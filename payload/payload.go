// Package payload implements the trivially-copyable/standard-layout
// validation shared by every pattern layer (topic, service, action), per
// spec.md §4.7: every templated payload (Req, Res, Goal, Feedback, Result,
// sequence element) must satisfy this constraint, checked at construction
// time with a fatal error on violation.
package payload

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/AlephTX/shmipc/shmerr"
)

// Validate rejects any type T that is not trivially-copyable with standard
// layout: no pointers, slices, maps, channels, funcs, interfaces, or
// strings anywhere in its transitive field set.
func Validate[T any]() error {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return shmerr.New("payload.Validate", "", shmerr.InvalidPayload,
			fmt.Errorf("payload type is an interface"))
	}
	if err := checkTriviallyCopyable(t); err != nil {
		return shmerr.New("payload.Validate", "", shmerr.InvalidPayload, err)
	}
	return nil
}

func checkTriviallyCopyable(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkTriviallyCopyable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if err := checkTriviallyCopyable(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("type %s (kind %s) is not trivially-copyable", t, t.Kind())
	}
}

// SizeOf returns sizeof(T) the way a C-style trivially-copyable struct
// would report it.
func SizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// ToBytes views v's in-memory representation as a byte slice, valid only
// as long as v is not moved/collected out from under it.
func ToBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// FromBytes copies b (which must be exactly SizeOf[T]() bytes) into a new
// T.
func FromBytes[T any](b []byte) T {
	var v T
	copy(ToBytes(&v), b)
	return v
}
