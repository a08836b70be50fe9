package topic

import (
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/ring"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// seqHeaderSize is the size of the leading [count:u32] prefix stored in
// every slot of a sequence-wrapped topic.
const seqHeaderSize = 4

func sequenceElemSize[E any](maxElems int) int {
	var zero E
	return seqHeaderSize + maxElems*int(unsafe.Sizeof(zero))
}

// SequencePublisher publishes variable-length (but bounded in practice)
// sequences of a trivially-copyable element type E, per the optional
// sequence-of-T wrapper in spec.md §4.4. The payload is encoded as
// [count:u32][elements...]; the publisher grows the segment (resize +
// remap) whenever the largest sequence published so far increases.
type SequencePublisher[E any] struct {
	name      string
	perm      segment.Perm
	slotCount int
	maxElems  int

	handle *segment.Handle
	rb     *ring.RingBuffer
}

// NewSequencePublisher creates or attaches to the named topic sized for an
// initial capacity of initialCap elements (minimum 1); Publish grows the
// segment automatically as larger sequences are sent.
func NewSequencePublisher[E any](name string, slotCount, initialCap int, perm segment.Perm) (*SequencePublisher[E], error) {
	if err := validatePayload[E](); err != nil {
		return nil, err
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	if initialCap < 1 {
		initialCap = 1
	}

	p := &SequencePublisher[E]{name: name, perm: perm, slotCount: slotCount}

	l, err := layout.CalculateRingLayout(sequenceElemSize[E](initialCap), slotCount)
	if err != nil {
		return nil, err
	}
	h, err := segment.Open(name, segment.ReadWriteCreate, perm)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(l.TotalSize); err != nil {
		_ = h.Disconnect()
		return nil, err
	}
	rb, err := ring.AttachPublisher(h.Base(), l, readyTimeout)
	if err != nil {
		_ = h.Disconnect()
		return nil, err
	}

	p.handle = h
	p.rb = rb
	p.maxElems = initialCap
	return p, nil
}

// Publish encodes items as [count][elements...] and publishes them,
// growing the segment first if items is longer than any sequence sent so
// far.
func (p *SequencePublisher[E]) Publish(items []E) error {
	if len(items) > p.maxElems {
		if err := p.grow(len(items)); err != nil {
			return err
		}
	}

	elemSize := sequenceElemSize[E](p.maxElems)
	buf := make([]byte, elemSize)
	binary.LittleEndian.PutUint32(buf, uint32(len(items)))
	if len(items) > 0 {
		stride := int(unsafe.Sizeof(items[0]))
		for i := range items {
			copy(buf[seqHeaderSize+i*stride:], toBytes(&items[i]))
		}
	}
	return p.rb.Publish(buf)
}

// grow re-sizes the segment for a larger maxElems, invalidating existing
// slot contents (their stride is changing) so subscribers report NoData
// rather than misinterpret stale bytes.
func (p *SequencePublisher[E]) grow(newMax int) error {
	l, err := layout.CalculateRingLayout(sequenceElemSize[E](newMax), p.slotCount)
	if err != nil {
		return err
	}
	if err := p.handle.Connect(l.TotalSize); err != nil {
		return err
	}
	rb, err := ring.AttachPublisher(p.handle.Base(), l, readyTimeout)
	if err != nil {
		return err
	}
	rb.SetLiveElementSize(l.ElementSize)
	rb.ResetSlots()

	p.rb = rb
	p.maxElems = newMax
	return nil
}

// Close disconnects without unlinking the segment.
func (p *SequencePublisher[E]) Close() error { return p.handle.Disconnect() }

// SequenceSubscriber reads variable-length sequences published by a
// SequencePublisher, transparently remapping when the publisher grows the
// segment.
type SequenceSubscriber[E any] struct {
	name      string
	slotCount int
	maxElems  int

	handle *segment.Handle
	rb     *ring.RingBuffer
}

// NewSequenceSubscriber constructs a subscriber for the named sequence
// topic. As with Subscriber, construction succeeds even if the publisher's
// segment does not exist yet.
func NewSequenceSubscriber[E any](name string, slotCount, initialCap int) (*SequenceSubscriber[E], error) {
	if err := validatePayload[E](); err != nil {
		return nil, err
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	if initialCap < 1 {
		initialCap = 1
	}
	s := &SequenceSubscriber[E]{name: name, slotCount: slotCount, maxElems: initialCap}
	_ = s.ensureAttached()
	return s, nil
}

func (s *SequenceSubscriber[E]) ensureAttached() error {
	if s.handle != nil && !s.handle.IsDisconnected() {
		if s.rb.LiveElementSize() == sequenceElemSize[E](s.maxElems) {
			return nil
		}
		// Publisher grew the segment; remap at the new stride.
		_ = s.handle.Disconnect()
		s.handle = nil
		s.rb = nil
	}

	h, err := segment.Open(s.name, segment.ReadWriteOpen, segment.DefaultPerm)
	if err != nil {
		return shmerr.New("topic.SequenceSubscriber.ensureAttached", s.name, shmerr.NotConnected, err)
	}
	if err := h.Connect(0); err != nil {
		_ = h.Disconnect()
		return err
	}

	probeLayout, err := layout.CalculateRingLayout(sequenceElemSize[E](s.maxElems), s.slotCount)
	if err != nil {
		_ = h.Disconnect()
		return err
	}
	rb := ring.AttachSubscriber(h.Base(), probeLayout)
	if err := rb.WaitReady(attachRetryWindow); err != nil {
		_ = h.Disconnect()
		return err
	}

	liveSize := rb.LiveElementSize()
	if liveSize != probeLayout.ElementSize {
		_ = h.Disconnect()
		liveMax := (liveSize - seqHeaderSize) / int(elementSizeOf[E]())
		if liveMax < 1 {
			liveMax = 1
		}
		s.maxElems = liveMax
		l2, err := layout.CalculateRingLayout(sequenceElemSize[E](s.maxElems), s.slotCount)
		if err != nil {
			return err
		}
		h2, err := segment.Open(s.name, segment.ReadWriteOpen, segment.DefaultPerm)
		if err != nil {
			return err
		}
		if err := h2.Connect(0); err != nil {
			_ = h2.Disconnect()
			return err
		}
		rb = ring.AttachSubscriber(h2.Base(), l2)
		if err := rb.WaitReady(attachRetryWindow); err != nil {
			_ = h2.Disconnect()
			return err
		}
		h = h2
	}

	s.handle = h
	s.rb = rb
	return nil
}

func elementSizeOf[E any]() uintptr {
	var zero E
	return unsafe.Sizeof(zero)
}

// Subscribe reads the newest sequence. Elements beyond the stored count are
// never returned, per spec.md §4.4.
func (s *SequenceSubscriber[E]) Subscribe() ([]E, bool) {
	if err := s.ensureAttached(); err != nil {
		return nil, false
	}
	buf := make([]byte, s.rb.ElementSize())
	ok, err := s.rb.Subscribe(buf)
	if err != nil || !ok {
		return nil, false
	}
	count := int(binary.LittleEndian.Uint32(buf))
	elemSize := int(elementSizeOf[E]())
	maxFit := (len(buf) - seqHeaderSize) / elemSize
	if count > maxFit {
		count = maxFit
	}
	out := make([]E, count)
	for i := 0; i < count; i++ {
		off := seqHeaderSize + i*elemSize
		out[i] = fromBytes[E](buf[off : off+elemSize])
	}
	return out, true
}

// WaitFor blocks until new data arrives or timeout elapses.
func (s *SequenceSubscriber[E]) WaitFor(timeout time.Duration) bool {
	if err := s.ensureAttached(); err != nil {
		return false
	}
	ok, err := s.rb.WaitForUpdate(timeout)
	return err == nil && ok
}

// Close disconnects without unlinking the segment.
func (s *SequenceSubscriber[E]) Close() error {
	if s.handle == nil {
		return nil
	}
	return s.handle.Disconnect()
}
