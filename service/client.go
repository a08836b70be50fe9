package service

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/AlephTX/shmipc/internal/shmsync"
	"github.com/AlephTX/shmipc/layout"
	"github.com/AlephTX/shmipc/payload"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// attachRetryWindow bounds how long a single ensureAttached call waits for
// a racing Server's init handshake to finish once the segment file exists.
const attachRetryWindow = 200 * time.Millisecond

// Client calls a named Server and blocks for its response. Construction
// succeeds even if the Server has not been created yet; the first Call
// attempt attaches lazily and reports NotConnected until it appears.
type Client[Req, Res any] struct {
	name string
	perm segment.Perm

	handle *segment.Handle
	layout layout.ServiceLayout
	req    channel
	res    channel

	// lastResTS tracks the response timestamp already observed by this
	// client. It is seeded to "now" at attach time rather than to the
	// live shared response timestamp (spec.md §9 open question): a
	// Client that attaches to a Server with a stale leftover response
	// from a previous caller must not mistake it for an answer to its
	// own upcoming Call.
	lastResTS uint64

	reattach *backoff.ExponentialBackOff
	nextTry  time.Time
}

// NewClient constructs a client bound to the named service.
func NewClient[Req, Res any](name string, perm segment.Perm) (*Client[Req, Res], error) {
	if err := payload.Validate[Req](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Res](); err != nil {
		return nil, err
	}

	c := &Client[Req, Res]{
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
	_ = c.ensureAttached()
	return c, nil
}

// Name returns the client's logical service name.
func (c *Client[Req, Res]) Name() string { return c.name }

func (c *Client[Req, Res]) connected() bool {
	return c.handle != nil && !c.handle.IsDisconnected()
}

func (c *Client[Req, Res]) ensureAttached() error {
	if c.connected() {
		return nil
	}
	if !c.nextTry.IsZero() && time.Now().Before(c.nextTry) {
		return shmerr.New("service.Client.ensureAttached", c.name, shmerr.NotConnected, nil)
	}
	if c.handle != nil {
		_ = c.handle.Disconnect()
		c.handle = nil
	}

	h, l, err := openServiceSegment[Req, Res](c.name, segment.ReadWriteOpen, c.perm)
	if err != nil {
		c.scheduleRetry()
		return shmerr.New("service.Client.ensureAttached", c.name, shmerr.NotConnected, err)
	}
	base := h.Base()

	req := newChannel(base, l.ReqMutexOffset, l.ReqCondOffset, l.ReqTimestampOffset, l.ReqPayloadOffset, l.ReqSize)
	res := newChannel(base, l.ResMutexOffset, l.ResCondOffset, l.ResTimestampOffset, l.ResPayloadOffset, l.ResSize)

	if err := waitInitFlag(base, l.InitFlagOffset, attachRetryWindow); err != nil {
		_ = h.Disconnect()
		c.scheduleRetry()
		return err
	}

	c.handle = h
	c.layout = l
	c.req = req
	c.res = res
	c.lastResTS = nowMicros()
	c.reattach.Reset()
	return nil
}

func (c *Client[Req, Res]) scheduleRetry() {
	c.nextTry = time.Now().Add(c.reattach.NextBackOff())
}

// Call sends req and blocks until the Server's response arrives or timeout
// elapses. ok is false on any failure to attach, send, or receive in time.
func (c *Client[Req, Res]) Call(req Req, timeout time.Duration) (res Res, ok bool) {
	if err := c.ensureAttached(); err != nil {
		return res, false
	}

	if err := c.sendRequest(&req); err != nil {
		return res, false
	}

	deadline := time.Now().Add(timeout)
	buf, ts, err := c.waitResponse(deadline)
	if err != nil {
		return res, false
	}
	c.lastResTS = ts
	return payload.FromBytes[Res](buf), true
}

func (c *Client[Req, Res]) sendRequest(req *Req) error {
	if err := c.req.mutex.Lock(); err != nil {
		return shmerr.New("service.Client.Call", c.name, shmerr.NotConnected, err)
	}
	defer c.req.mutex.Unlock()

	copy(c.req.payload, payload.ToBytes(req))
	c.req.storeTS(nowMicros())
	if err := c.req.cond.Broadcast(); err != nil {
		return shmerr.New("service.Client.Call", c.name, shmerr.NotConnected, err)
	}
	return nil
}

func (c *Client[Req, Res]) waitResponse(deadline time.Time) ([]byte, uint64, error) {
	if err := c.res.mutex.Lock(); err != nil {
		return nil, 0, shmerr.New("service.Client.Call", c.name, shmerr.NotConnected, err)
	}
	defer c.res.mutex.Unlock()

	for {
		ts := c.res.loadTS()
		if ts > c.lastResTS {
			out := make([]byte, len(c.res.payload))
			copy(out, c.res.payload)
			return out, ts, nil
		}
		if time.Now().After(deadline) {
			return nil, 0, shmerr.New("service.Client.Call", c.name, shmerr.Timeout, nil)
		}
		if err := c.res.cond.TimedWaitAbs(c.res.mutex, deadline); err != nil {
			if err == shmsync.ErrCondTimedOut {
				continue
			}
			return nil, 0, shmerr.New("service.Client.Call", c.name, shmerr.NotConnected, err)
		}
	}
}

// Close disconnects without unlinking the segment.
func (c *Client[Req, Res]) Close() error {
	if c.handle == nil {
		return nil
	}
	return c.handle.Disconnect()
}
