package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlephTX/shmipc/payload"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// Handler computes a response for a request. It runs outside any mutex, so
// it may block or take arbitrary time without stalling other service
// segments.
type Handler[Req, Res any] func(Req) Res

// Server answers Call requests from one or more Client attachments to the
// same logical name, per spec.md §4.5: a single worker goroutine handles one
// request at a time. The segment holds one request slot and one response
// slot, so overlapping calls from different Clients are not queued: a later
// request or response overwrites an earlier one in place.
type Server[Req, Res any] struct {
	name   string
	handle *segment.Handle
	req    channel
	res    channel

	handler Handler[Req, Res]

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates (or recreates, per the crash-safe-restart semantics of
// the init handshake) the named service segment and spawns the worker
// goroutine that invokes handler for every incoming request.
func NewServer[Req, Res any](name string, perm segment.Perm, handler Handler[Req, Res]) (*Server[Req, Res], error) {
	if err := payload.Validate[Req](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Res](); err != nil {
		return nil, err
	}

	h, l, err := openServiceSegment[Req, Res](name, segment.ReadWriteCreate, perm)
	if err != nil {
		return nil, err
	}
	base := h.Base()

	req := newChannel(base, l.ReqMutexOffset, l.ReqCondOffset, l.ReqTimestampOffset, l.ReqPayloadOffset, l.ReqSize)
	res := newChannel(base, l.ResMutexOffset, l.ResCondOffset, l.ResTimestampOffset, l.ResPayloadOffset, l.ResSize)

	if err := ensureSegmentInitialized(base, l, &req, &res, readyTimeout); err != nil {
		_ = h.Disconnect()
		return nil, err
	}

	s := &Server[Req, Res]{
		name:    name,
		handle:  h,
		req:     req,
		res:     res,
		handler: handler,
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Name returns the server's logical service name.
func (s *Server[Req, Res]) Name() string { return s.name }

// run is the single worker loop described by spec.md §4.5: wait for a new
// request timestamp, copy the request out under the request mutex, invoke
// the handler outside any mutex, then write and stamp the response under
// the response mutex and broadcast it.
func (s *Server[Req, Res]) run() {
	defer s.wg.Done()

	var lastReqTS uint64
	for {
		reqBuf, ts, ok := s.waitNextRequest(lastReqTS)
		if !ok {
			return
		}
		lastReqTS = ts

		request := payload.FromBytes[Req](reqBuf)
		response := s.handler(request)

		if err := s.commitResponse(&response); err != nil {
			return
		}
	}
}

// waitNextRequest blocks on the request condvar until a newer request
// timestamp is observed or shutdown is requested, returning a private copy
// of the request payload taken under the request mutex.
func (s *Server[Req, Res]) waitNextRequest(lastReqTS uint64) (buf []byte, ts uint64, ok bool) {
	if err := s.req.mutex.Lock(); err != nil {
		return nil, 0, false
	}
	defer s.req.mutex.Unlock()

	for {
		if s.shutdown.Load() {
			return nil, 0, false
		}
		cur := s.req.loadTS()
		if cur > lastReqTS {
			out := make([]byte, len(s.req.payload))
			copy(out, s.req.payload)
			return out, cur, true
		}
		if err := s.req.cond.Wait(s.req.mutex); err != nil {
			return nil, 0, false
		}
	}
}

func (s *Server[Req, Res]) commitResponse(response *Res) error {
	if err := s.res.mutex.Lock(); err != nil {
		return shmerr.New("service.Server.run", s.name, shmerr.NotConnected, err)
	}
	defer s.res.mutex.Unlock()

	copy(s.res.payload, payload.ToBytes(response))
	s.res.storeTS(nowMicros())
	if err := s.res.cond.Broadcast(); err != nil {
		return shmerr.New("service.Server.run", s.name, shmerr.NotConnected, err)
	}
	return nil
}

// Close requests the worker to shut down, waits for it to exit, and
// disconnects without unlinking the segment.
func (s *Server[Req, Res]) Close() error {
	s.shutdown.Store(true)
	if err := s.req.mutex.Lock(); err == nil {
		_ = s.req.cond.Broadcast()
		_ = s.req.mutex.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(readyTimeout):
		// Worker stuck in handler or wait; disconnect anyway.
	}

	return s.handle.Disconnect()
}

// CloseAndUnlink shuts the worker down and unlinks the segment name iff no
// other holder remains.
func (s *Server[Req, Res]) CloseAndUnlink() error {
	s.shutdown.Store(true)
	if err := s.req.mutex.Lock(); err == nil {
		_ = s.req.cond.Broadcast()
		_ = s.req.mutex.Unlock()
	}
	s.wg.Wait()
	return s.handle.DisconnectAndUnlink()
}
