package action

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AlephTX/shmipc/internal/shmsync"
	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/payload"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// serverPollInterval is how often WaitForServer polls IsServerConnected,
// per spec.md §4.6 ("polls is_server_connected at 100 ms intervals").
const serverPollInterval = 100 * time.Millisecond

// Client sends goals to a named Server and polls feedback/result/status.
type Client[Goal, Feedback, Result any] struct {
	name string
	perm segment.Perm

	handle *segment.Handle
	layout layout.ActionLayout
	goal   channel
	result channel
	fields fields

	lastResultTS uint64

	reattach *backoff.ExponentialBackOff
}

// NewClient constructs a client bound to the named action. Construction
// succeeds even if no Server exists yet; IsServerConnected/WaitForServer
// report the real state.
func NewClient[Goal, Feedback, Result any](name string, perm segment.Perm) (*Client[Goal, Feedback, Result], error) {
	if err := payload.Validate[Goal](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Feedback](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Result](); err != nil {
		return nil, err
	}

	c := &Client[Goal, Feedback, Result]{
		name: name,
		perm: perm,
		reattach: &backoff.ExponentialBackOff{
			InitialInterval:     backoff.DefaultInitialInterval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         time.Second,
		},
	}
	c.reattach.Reset()
	_ = c.tryAttach()
	return c, nil
}

func (c *Client[Goal, Feedback, Result]) connected() bool {
	return c.handle != nil && !c.handle.IsDisconnected()
}

// IsServerConnected attempts attach on first call (and any time the
// mapping has been lost) and reports whether the client is mapped.
func (c *Client[Goal, Feedback, Result]) IsServerConnected() bool {
	if c.connected() {
		return true
	}
	return c.tryAttach() == nil
}

func (c *Client[Goal, Feedback, Result]) tryAttach() error {
	if c.handle != nil {
		_ = c.handle.Disconnect()
		c.handle = nil
	}

	h, l, err := openActionSegment[Goal, Feedback, Result](c.name, segment.ReadWriteOpen, c.perm)
	if err != nil {
		return shmerr.New("action.Client.tryAttach", c.name, shmerr.NotConnected, err)
	}
	base := h.Base()

	goal := newChannel(base, l.GoalMutexOffset, l.GoalCondOffset, l.GoalTimestampOffset, l.GoalPayloadOffset, l.GoalSize)
	result := newChannel(base, l.ResultMutexOffset, l.ResultCondOffset, l.ResultTimestampOffset, l.ResultPayloadOffset, l.ResultSize)
	f := newFields(base, l)

	if err := waitInitFlag(base, l.InitFlagOffset, 200*time.Millisecond); err != nil {
		_ = h.Disconnect()
		return err
	}

	c.handle = h
	c.layout = l
	c.goal = goal
	c.result = result
	c.fields = f
	return nil
}

// WaitForServer polls IsServerConnected at 100 ms intervals until connected
// or timeout elapses.
func (c *Client[Goal, Feedback, Result]) WaitForServer(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.IsServerConnected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(serverPollInterval)
	}
}

// SendGoal requires a connected server: it records the currently-visible
// result timestamp as the new baseline, writes the goal payload, stamps
// the goal timestamp, and broadcasts the goal condvar.
func (c *Client[Goal, Feedback, Result]) SendGoal(goal Goal) bool {
	if !c.connected() && c.tryAttach() != nil {
		return false
	}

	if err := c.goal.mutex.Lock(); err != nil {
		return false
	}
	defer c.goal.mutex.Unlock()

	c.lastResultTS = c.result.loadTS()
	copy(c.goal.payload, payload.ToBytes(&goal))
	c.goal.storeTS(nowMicros())
	return c.goal.cond.Broadcast() == nil
}

// WaitForResult waits on the result condvar until shared result-timestamp
// exceeds lastResultTS or the deadline elapses.
func (c *Client[Goal, Feedback, Result]) WaitForResult(timeout time.Duration) bool {
	if !c.connected() {
		return false
	}
	deadline := time.Now().Add(timeout)

	if err := c.result.mutex.Lock(); err != nil {
		return false
	}
	defer c.result.mutex.Unlock()

	for {
		if c.result.loadTS() > c.lastResultTS {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := c.result.cond.TimedWaitAbs(c.result.mutex, deadline); err != nil {
			if err == shmsync.ErrCondTimedOut {
				return c.result.loadTS() > c.lastResultTS
			}
			return false
		}
	}
}

// GetFeedback reads the current feedback payload without blocking.
func (c *Client[Goal, Feedback, Result]) GetFeedback() Feedback {
	return payload.FromBytes[Feedback](c.fields.feedback)
}

// GetResult reads the current result payload without blocking.
func (c *Client[Goal, Feedback, Result]) GetResult() Result {
	return payload.FromBytes[Result](c.result.payload)
}

// GetStatus reads the current status enum without blocking.
func (c *Client[Goal, Feedback, Result]) GetStatus() Status {
	return c.fields.loadStatus()
}

// CancelGoal stamps the cancel-timestamp with the current monotonic
// microsecond clock, for the server's IsPreemptRequested check to observe.
func (c *Client[Goal, Feedback, Result]) CancelGoal() {
	c.fields.storeCancelTS(nowMicros())
}

// Close disconnects without unlinking the segment.
func (c *Client[Goal, Feedback, Result]) Close() error {
	if c.handle == nil {
		return nil
	}
	return c.handle.Disconnect()
}
