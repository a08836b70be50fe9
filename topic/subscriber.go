package topic

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/ring"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// attachRetryWindow bounds how long a single ensureAttached call is willing
// to wait for the publisher's init handshake to complete once the segment
// file itself exists.
const attachRetryWindow = 200 * time.Millisecond

// Subscriber reads values of type T from a named topic. T must be
// trivially-copyable with standard layout.
type Subscriber[T any] struct {
	name      string
	slotCount int

	handle *segment.Handle
	rb     *ring.RingBuffer

	reattach *backoff.ExponentialBackOff
	nextTry  time.Time
}

// NewSubscriber constructs a subscriber for the named topic. If the
// publisher's segment does not exist yet, construction still succeeds;
// subsequent Subscribe/WaitFor calls report NotConnected until it appears.
func NewSubscriber[T any](name string, slotCount int) (*Subscriber[T], error) {
	if err := validatePayload[T](); err != nil {
		return nil, err
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	s := &Subscriber[T]{
		name:      name,
		slotCount: slotCount,
		reattach: &backoff.ExponentialBackOff{
			InitialInterval:     backoff.DefaultInitialInterval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         time.Second,
		},
	}
	s.reattach.Reset()
	_ = s.ensureAttached() // best-effort; failure is reported on first read
	return s, nil
}

// Name returns the subscriber's logical topic name.
func (s *Subscriber[T]) Name() string { return s.name }

func (s *Subscriber[T]) connected() bool {
	return s.handle != nil && s.rb != nil && !s.handle.IsDisconnected()
}

// ensureAttached (re)establishes the mapping and init-handshake check. It is
// called on every read when disconnected, backing off between attempts so a
// subscriber polling against a publisher that never starts doesn't spin.
func (s *Subscriber[T]) ensureAttached() error {
	if s.connected() {
		return nil
	}
	if !s.nextTry.IsZero() && time.Now().Before(s.nextTry) {
		return shmerr.New("topic.ensureAttached", s.name, shmerr.NotConnected, nil)
	}

	if s.handle != nil {
		_ = s.handle.Disconnect()
		s.handle = nil
		s.rb = nil
	}

	l, err := layout.CalculateRingLayout(elementSize[T](), s.slotCount)
	if err != nil {
		return err
	}

	h, err := segment.Open(s.name, segment.ReadWriteOpen, segment.DefaultPerm)
	if err != nil {
		s.scheduleRetry()
		return shmerr.New("topic.ensureAttached", s.name, shmerr.NotConnected, err)
	}
	if err := h.Connect(0); err != nil {
		_ = h.Disconnect()
		s.scheduleRetry()
		return shmerr.New("topic.ensureAttached", s.name, shmerr.NotConnected, err)
	}

	rb := ring.AttachSubscriber(h.Base(), l)
	if err := rb.WaitReady(attachRetryWindow); err != nil {
		_ = h.Disconnect()
		s.scheduleRetry()
		return err
	}

	s.handle = h
	s.rb = rb
	s.reattach.Reset()
	return nil
}

func (s *Subscriber[T]) scheduleRetry() {
	s.nextTry = time.Now().Add(s.reattach.NextBackOff())
}

// SetDataExpiry configures the staleness threshold; zero disables expiry.
// It applies to the current attachment only: while the subscriber is not
// attached the call has no effect, and a re-attach starts with expiry
// disabled.
func (s *Subscriber[T]) SetDataExpiry(d time.Duration) {
	if s.rb != nil {
		s.rb.SetExpiry(d)
	}
}

// Subscribe reads the newest non-expired slot. ok is false if disconnected,
// there is no valid data yet, or the newest slot has expired.
func (s *Subscriber[T]) Subscribe() (T, bool) {
	var zero T
	if err := s.ensureAttached(); err != nil {
		return zero, false
	}
	buf := make([]byte, elementSize[T]())
	ok, err := s.rb.Subscribe(buf)
	if err != nil || !ok {
		return zero, false
	}
	return fromBytes[T](buf), true
}

// WaitFor blocks until new data arrives or timeout elapses, returning true
// only on a genuine wakeup with new data.
func (s *Subscriber[T]) WaitFor(timeout time.Duration) bool {
	if err := s.ensureAttached(); err != nil {
		return false
	}
	ok, err := s.rb.WaitForUpdate(timeout)
	return err == nil && ok
}

// Close disconnects without unlinking the segment.
func (s *Subscriber[T]) Close() error {
	if s.handle == nil {
		return nil
	}
	return s.handle.Disconnect()
}
