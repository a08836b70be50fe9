// Package service implements the Service Server/Client pattern layer:
// blocking request/response over two channels (request, response) in one
// segment (spec.md §4.5).
package service

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/AlephTX/shmipc/internal/shmsync"
	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/payload"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

const readyTimeout = 2 * time.Second

// channel bundles one side (request or response) of a service segment: its
// payload region, mutex, condvar, and commit timestamp.
type channel struct {
	payload  []byte
	mutex    *shmsync.Mutex
	cond     *shmsync.Cond
	tsPtr    *uint64
}

func newChannel(base []byte, mutexOff, condOff, tsOff, payloadOff, size int) channel {
	return channel{
		payload: base[payloadOff : payloadOff+size],
		mutex:   shmsync.MutexAt(base, mutexOff),
		cond:    shmsync.CondAt(base, condOff),
		tsPtr:   (*uint64)(unsafe.Pointer(&base[tsOff])),
	}
}

func (c *channel) loadTS() uint64   { return atomic.LoadUint64(c.tsPtr) }
func (c *channel) storeTS(v uint64) { atomic.StoreUint64(c.tsPtr, v) }

// ensureSegmentInitialized performs the construction-right CAS on
// pthread_init_flag, mirroring ring.ensureInitialized: the winner
// initializes both channels' mutex/condvar and release-stores init_flag=1;
// everyone else waits for it.
func ensureSegmentInitialized(base []byte, l layout.ServiceLayout, req, res *channel, timeout time.Duration) error {
	pthreadFlag := (*uint32)(unsafe.Pointer(&base[l.PthreadInitFlagOffset]))
	if atomic.CompareAndSwapUint32(pthreadFlag, 0, 1) {
		req.storeTS(0)
		res.storeTS(0)
		if err := req.mutex.InitShared(); err != nil {
			return shmerr.New("service.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := req.cond.InitShared(); err != nil {
			return shmerr.New("service.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := res.mutex.InitShared(); err != nil {
			return shmerr.New("service.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := res.cond.InitShared(); err != nil {
			return shmerr.New("service.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&base[l.InitFlagOffset])), 1)
		return nil
	}
	return waitInitFlag(base, l.InitFlagOffset, timeout)
}

func waitInitFlag(base []byte, offset int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	flag := (*uint32)(unsafe.Pointer(&base[offset]))
	for {
		if atomic.LoadUint32(flag) == 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return shmerr.New("service.waitInitFlag", "", shmerr.NotInitialized, nil)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func openServiceSegment[Req, Res any](name string, mode segment.Mode, perm segment.Perm) (*segment.Handle, layout.ServiceLayout, error) {
	var l layout.ServiceLayout
	cl, err := layout.CalculateServiceLayout(payload.SizeOf[Req](), payload.SizeOf[Res]())
	if err != nil {
		return nil, l, err
	}
	h, err := segment.Open(name, mode, perm)
	if err != nil {
		return nil, l, err
	}
	required := int64(0)
	if mode == segment.ReadWriteCreate {
		required = cl.TotalSize
	}
	if err := h.Connect(required); err != nil {
		_ = h.Disconnect()
		return nil, l, err
	}
	return h, cl, nil
}
