// Package topic implements the Publisher/Subscriber pattern layer on top of
// a ring-buffer segment (spec.md §4.4): publishers reserve the oldest slot,
// copy the payload, stamp a commit timestamp and broadcast; subscribers
// read the newest non-expired slot.
package topic

import (
	"time"

	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/ring"
	"github.com/AlephTX/shmipc/segment"
)

// DefaultSlotCount is the default ring depth for a new topic.
const DefaultSlotCount = 3

// readyTimeout bounds how long a publisher waits for an in-flight
// initialization by a racing simultaneous creator to finish.
const readyTimeout = 2 * time.Second

// Publisher publishes values of type T to a named topic. T must be
// trivially-copyable with standard layout; the constructor validates this
// and fails fatally otherwise.
type Publisher[T any] struct {
	name   string
	handle *segment.Handle
	rb     *ring.RingBuffer
}

// NewPublisher creates or attaches to the named topic's segment, sized for
// slotCount slots (DefaultSlotCount if <= 0) of T, and performs the
// publisher-side initialization handshake.
func NewPublisher[T any](name string, slotCount int, perm segment.Perm) (*Publisher[T], error) {
	if err := validatePayload[T](); err != nil {
		return nil, err
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	l, err := layout.CalculateRingLayout(elementSize[T](), slotCount)
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

	return &Publisher[T]{name: name, handle: h, rb: rb}, nil
}

// Name returns the publisher's logical topic name.
func (p *Publisher[T]) Name() string { return p.name }

// Publish reserves the oldest slot, copies v in, stamps the commit
// timestamp, and broadcasts subscribers.
func (p *Publisher[T]) Publish(v T) error {
	return p.rb.Publish(toBytes(&v))
}

// Close disconnects (unmaps and closes) without unlinking the segment.
func (p *Publisher[T]) Close() error {
	return p.handle.Disconnect()
}

// CloseAndUnlink disconnects and unlinks the segment name iff no other
// holder remains (spec.md §4.1 DisconnectAndUnlink semantics).
func (p *Publisher[T]) CloseAndUnlink() error {
	return p.handle.DisconnectAndUnlink()
}
