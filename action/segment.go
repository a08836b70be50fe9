package action

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

// channel bundles one side (goal or result) of an action segment: its
// payload region, mutex, condvar, and commit timestamp.
type channel struct {
	payload []byte
	mutex   *shmsync.Mutex
	cond    *shmsync.Cond
	tsPtr   *uint64
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

// fields bundles direct pointers to the feedback payload, status enum, and
// cancel timestamp — the three pieces of an action segment outside the
// goal/result channels.
type fields struct {
	feedback   []byte
	statusPtr  *int32
	cancelPtr  *uint64
}

func newFields(base []byte, l layout.ActionLayout) fields {
	return fields{
		feedback:  base[l.FeedbackPayloadOffset : l.FeedbackPayloadOffset+l.FeedbackSize],
		statusPtr: (*int32)(unsafe.Pointer(&base[l.StatusOffset])),
		cancelPtr: (*uint64)(unsafe.Pointer(&base[l.CancelTimestampOffset])),
	}
}

func (f *fields) loadStatus() Status    { return Status(atomic.LoadInt32(f.statusPtr)) }
func (f *fields) storeStatus(s Status)  { atomic.StoreInt32(f.statusPtr, int32(s)) }
func (f *fields) loadCancelTS() uint64  { return atomic.LoadUint64(f.cancelPtr) }
func (f *fields) storeCancelTS(v uint64) { atomic.StoreUint64(f.cancelPtr, v) }

// ensureSegmentInitialized performs the construction-right CAS on
// pthread_init_flag: the winner initializes both channels' mutex/condvar,
// zeroes timestamps, sets the initial SUCCEEDED ("idle") status, and
// release-stores init_flag=1; everyone else waits for it.
func ensureSegmentInitialized(base []byte, l layout.ActionLayout, goal, result *channel, f *fields, timeout time.Duration) error {
	pthreadFlag := (*uint32)(unsafe.Pointer(&base[l.PthreadInitFlagOffset]))
	if atomic.CompareAndSwapUint32(pthreadFlag, 0, 1) {
		goal.storeTS(0)
		result.storeTS(0)
		f.storeStatus(StatusSucceeded)
		f.storeCancelTS(0)
		if err := goal.mutex.InitShared(); err != nil {
			return shmerr.New("action.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := goal.cond.InitShared(); err != nil {
			return shmerr.New("action.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := result.mutex.InitShared(); err != nil {
			return shmerr.New("action.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
		}
		if err := result.cond.InitShared(); err != nil {
			return shmerr.New("action.ensureSegmentInitialized", "", shmerr.NotInitialized, err)
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
			return shmerr.New("action.waitInitFlag", "", shmerr.NotInitialized, nil)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func openActionSegment[Goal, Feedback, Result any](name string, mode segment.Mode, perm segment.Perm) (*segment.Handle, layout.ActionLayout, error) {
	var l layout.ActionLayout
	cl, err := layout.CalculateActionLayout(payload.SizeOf[Goal](), payload.SizeOf[Result](), payload.SizeOf[Feedback]())
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
