// Package ring implements RingBuffer: all cross-process synchronization for
// topic-pattern traffic atop a mapped segment — slot reservation, timestamped
// commit, newest/oldest selection with expiry, waiter signaling, and the
// initialization-barrier handshake (spec.md §4.3).
package ring

import (
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/AlephTX/shmipc/internal/shmsync"
	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/shmerr"
)

const (
	timestampEmpty   = 0
	timestampWriting = math.MaxUint64
)

const (
	reservationRetries    = 10
	reservationRetryDelay = 10 * time.Microsecond
	initPollInterval      = 50 * time.Microsecond
)

// RingBuffer is a per-process view over a mapped ring-buffer segment. It
// holds no per-process heap state beyond cached field pointers, the
// per-subscriber last_seen timestamp, and configured expiry (spec.md §4.3
// "State").
type RingBuffer struct {
	data  []byte
	l     layout.RingLayout
	mutex *shmsync.Mutex
	cond  *shmsync.Cond

	lastSeen uint64
	expiry   time.Duration
}

func newRingBuffer(data []byte, l layout.RingLayout) *RingBuffer {
	return &RingBuffer{
		data:  data,
		l:     l,
		mutex: shmsync.MutexAt(data, l.MutexOffset),
		cond:  shmsync.CondAt(data, l.CondOffset),
	}
}

// AttachPublisher views data (sized per l) as a ring buffer and performs the
// initialization handshake if this is the first participant to attach,
// i.e. the field-initialization responsibility described in spec.md §4.3.
//
// If the segment was already initialized by a previous publisher (including
// one from an earlier process lifetime that crashed without unlinking), the
// existing fields are left untouched and this call simply waits for them to
// be visible.
func AttachPublisher(data []byte, l layout.RingLayout, readyTimeout time.Duration) (*RingBuffer, error) {
	r := newRingBuffer(data, l)
	if err := r.ensureInitialized(readyTimeout); err != nil {
		return nil, err
	}
	return r, nil
}

// AttachSubscriber views data (sized per l) as a ring buffer without
// performing any initialization. Callers must call WaitReady before the
// first Subscribe/WaitForUpdate.
func AttachSubscriber(data []byte, l layout.RingLayout) *RingBuffer {
	return newRingBuffer(data, l)
}

// ensureInitialized implements the construction-right CAS on
// pthread_init_flag described in spec.md's field table: whichever attacher
// wins the CAS performs the slow init path and release-stores init_flag=1;
// everyone else (including simultaneous creators and subsequent attaches to
// an already-initialized segment) just waits for init_flag==1.
func (r *RingBuffer) ensureInitialized(timeout time.Duration) error {
	pthreadFlag := r.ptrU32(r.l.PthreadInitFlagOffset)
	if atomic.CompareAndSwapUint32(pthreadFlag, 0, 1) {
		// Zero the timestamp array.
		for i := 0; i < r.l.SlotCount; i++ {
			atomic.StoreUint64(r.timestampPtr(i), timestampEmpty)
		}
		if err := r.mutex.InitShared(); err != nil {
			return shmerr.New("ring.ensureInitialized", "", shmerr.NotInitialized, err)
		}
		if err := r.cond.InitShared(); err != nil {
			return shmerr.New("ring.ensureInitialized", "", shmerr.NotInitialized, err)
		}
		atomic.StoreUint64(r.ptrU64(r.l.ElementSizeOffset), uint64(r.l.ElementSize))
		atomic.StoreUint64(r.ptrU64(r.l.SlotCountOffset), uint64(r.l.SlotCount))

		// Release fence: the store of init_flag=1 below happens-after every
		// write above in program order; atomic stores in Go provide at
		// least this ordering with respect to atomic loads elsewhere.
		atomic.StoreUint32(r.ptrU32(r.l.InitFlagOffset), 1)
		return nil
	}
	return r.WaitReady(timeout)
}

// WaitReady polls init_flag until it observes 1 or timeout elapses. Callers
// (subscribers, or publishers attaching to a pre-existing segment) must not
// read any other field until this returns nil.
func (r *RingBuffer) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	flag := r.ptrU32(r.l.InitFlagOffset)
	for {
		if atomic.LoadUint32(flag) == 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return shmerr.New("ring.WaitReady", "", shmerr.NotInitialized, nil)
		}
		time.Sleep(initPollInterval)
	}
}

// SetExpiry configures the per-subscriber staleness threshold. Zero
// disables expiry (spec.md §8 boundary behavior).
func (r *RingBuffer) SetExpiry(d time.Duration) { r.expiry = d }

// ElementSize returns the slot payload size this view was attached with.
func (r *RingBuffer) ElementSize() int { return r.l.ElementSize }

// LiveElementSize reads the element_size field as currently stored in the
// segment, which may differ from ElementSize() if another participant grew
// the segment's per-slot stride after this view attached (spec.md §4.4's
// sequence-of-T wrapper).
func (r *RingBuffer) LiveElementSize() int {
	return int(atomic.LoadUint64(r.ptrU64(r.l.ElementSizeOffset)))
}

// SetLiveElementSize updates the element_size field in place. Only the
// publisher that owns a growing sequence wrapper may call this.
func (r *RingBuffer) SetLiveElementSize(n int) {
	atomic.StoreUint64(r.ptrU64(r.l.ElementSizeOffset), uint64(n))
}

// ResetSlots clears every slot timestamp to empty. Used by callers that
// must invalidate existing slot contents after growing the segment's
// per-slot stride out from under previously-committed data.
func (r *RingBuffer) ResetSlots() {
	for i := 0; i < r.l.SlotCount; i++ {
		atomic.StoreUint64(r.timestampPtr(i), timestampEmpty)
	}
}

// Publish reserves the oldest slot, copies payload into it, stamps a
// monotonic-microsecond commit timestamp, and broadcasts waiters
// (spec.md §4.3 "Slot reservation").
func (r *RingBuffer) Publish(payload []byte) error {
	if len(payload) != r.l.ElementSize {
		return shmerr.New("ring.Publish", "", shmerr.InvalidPayload, nil)
	}

	slot := -1
	for attempt := 0; attempt <= reservationRetries; attempt++ {
		idx := r.oldestIndex()
		ts := r.timestampPtr(idx)
		observed := atomic.LoadUint64(ts)
		if observed == timestampWriting {
			time.Sleep(reservationRetryDelay)
			continue
		}
		if atomic.CompareAndSwapUint64(ts, observed, timestampWriting) {
			slot = idx
			break
		}
		time.Sleep(reservationRetryDelay)
	}
	if slot < 0 {
		return shmerr.New("ring.Publish", "", shmerr.ReservationExhausted, nil)
	}

	copy(r.slotData(slot), payload)

	atomic.StoreUint64(r.timestampPtr(slot), nowMicros())

	if err := r.mutex.Lock(); err != nil {
		return shmerr.New("ring.Publish", "", shmerr.NotConnected, err)
	}
	broadcastErr := r.cond.Broadcast()
	_ = r.mutex.Unlock()
	if broadcastErr != nil {
		return shmerr.New("ring.Publish", "", shmerr.NotConnected, broadcastErr)
	}
	return nil
}

// Subscribe reads the newest non-expired slot into out, which must be
// exactly ElementSize bytes. ok is false with a NoData or Expired error when
// there is nothing valid to report (spec.md §4.3 "Slot selection").
func (r *RingBuffer) Subscribe(out []byte) (bool, error) {
	if len(out) != r.l.ElementSize {
		return false, shmerr.New("ring.Subscribe", "", shmerr.InvalidPayload, nil)
	}

	idx, ts, found := r.newestIndex()
	if !found {
		return false, shmerr.New("ring.Subscribe", "", shmerr.NoData, nil)
	}

	if r.expiry > 0 {
		age := time.Duration(nowMicros()-ts) * time.Microsecond
		if age > r.expiry {
			return false, shmerr.New("ring.Subscribe", "", shmerr.Expired, nil)
		}
	}

	copy(out, r.slotData(idx))
	r.lastSeen = ts
	return true, nil
}

// WaitForUpdate blocks until a slot commits with a timestamp newer than the
// last one observed by Subscribe, or until timeout elapses. Returns true on
// a genuine wakeup with new data, false on timeout (spec.md §4.3
// "Wait-for-update").
func (r *RingBuffer) WaitForUpdate(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	if err := r.mutex.Lock(); err != nil {
		return false, shmerr.New("ring.WaitForUpdate", "", shmerr.NotConnected, err)
	}
	defer r.mutex.Unlock()

	for {
		if r.hasNewData() {
			return true, nil
		}
		if err := r.cond.TimedWaitAbs(r.mutex, deadline); err != nil {
			if err == shmsync.ErrCondTimedOut {
				return r.hasNewData(), nil
			}
			return false, shmerr.New("ring.WaitForUpdate", "", shmerr.NotConnected, err)
		}
		if time.Now().After(deadline) {
			return r.hasNewData(), nil
		}
	}
}

func (r *RingBuffer) hasNewData() bool {
	for i := 0; i < r.l.SlotCount; i++ {
		ts := atomic.LoadUint64(r.timestampPtr(i))
		if ts != timestampEmpty && ts != timestampWriting && ts > r.lastSeen {
			return true
		}
	}
	return false
}

// oldestIndex scans the timestamp array for the slot with the smallest
// timestamp, ties broken toward the lowest index. A slot marked
// timestampWriting counts as greater than any real timestamp, since it is
// currently being written (spec.md §4.3 step 1).
func (r *RingBuffer) oldestIndex() int {
	best := 0
	var bestTS uint64 = math.MaxUint64
	for i := 0; i < r.l.SlotCount; i++ {
		ts := atomic.LoadUint64(r.timestampPtr(i))
		if ts < bestTS {
			bestTS = ts
			best = i
		}
	}
	return best
}

// newestIndex scans the timestamp array ignoring empty and
// writing-in-progress slots, returning the slot with the largest timestamp.
func (r *RingBuffer) newestIndex() (idx int, ts uint64, found bool) {
	var bestTS uint64
	best := -1
	for i := 0; i < r.l.SlotCount; i++ {
		v := atomic.LoadUint64(r.timestampPtr(i))
		if v == timestampEmpty || v == timestampWriting {
			continue
		}
		if best == -1 || v > bestTS {
			bestTS = v
			best = i
		}
	}
	if best == -1 {
		return 0, 0, false
	}
	return best, bestTS, true
}

func (r *RingBuffer) timestampPtr(slot int) *uint64 {
	off := r.l.TimestampsOffset + slot*8
	return r.ptrU64(off)
}

func (r *RingBuffer) slotData(slot int) []byte {
	off := r.l.DataOffset + slot*r.l.ElementSize
	return r.data[off : off+r.l.ElementSize]
}

func (r *RingBuffer) ptrU32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.data[off]))
}

func (r *RingBuffer) ptrU64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}
