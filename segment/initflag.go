package segment

import (
	"sync/atomic"
	"unsafe"
)

// loadInitFlag reads the 32-bit init_flag atomic that every layout (ring,
// service, action) places at offset 0 of its segment.
func loadInitFlag(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&data[0])))
}
