package action

import (
	"time"

	"github.com/AlephTX/shmipc/internal/shmsync"
	"github.com/AlephTX/shmipc/payload"
	"github.com/AlephTX/shmipc/segment"
	"github.com/AlephTX/shmipc/shmerr"
)

// Server exposes the manual goal/feedback/result API described by
// spec.md §4.6. Unlike Service's Server, Action's Server does not spawn a
// worker goroutine: the caller drives its own loop of wait_new_goal /
// accept_new_goal / publish_feedback / publish_result, since a goal may
// take an arbitrary amount of wall-clock time and needs interleaved
// feedback and preemption checks that only the caller can schedule.
type Server[Goal, Feedback, Result any] struct {
	name   string
	handle *segment.Handle
	goal   channel
	result channel
	fields fields

	currentGoalTS  uint64
	acceptanceTime uint64
}

// NewServer creates (or recreates) the named action segment.
func NewServer[Goal, Feedback, Result any](name string, perm segment.Perm) (*Server[Goal, Feedback, Result], error) {
	if err := payload.Validate[Goal](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Feedback](); err != nil {
		return nil, err
	}
	if err := payload.Validate[Result](); err != nil {
		return nil, err
	}

	h, l, err := openActionSegment[Goal, Feedback, Result](name, segment.ReadWriteCreate, perm)
	if err != nil {
		return nil, err
	}
	base := h.Base()

	goal := newChannel(base, l.GoalMutexOffset, l.GoalCondOffset, l.GoalTimestampOffset, l.GoalPayloadOffset, l.GoalSize)
	result := newChannel(base, l.ResultMutexOffset, l.ResultCondOffset, l.ResultTimestampOffset, l.ResultPayloadOffset, l.ResultSize)
	f := newFields(base, l)

	if err := ensureSegmentInitialized(base, l, &goal, &result, &f, readyTimeout); err != nil {
		_ = h.Disconnect()
		return nil, err
	}

	return &Server[Goal, Feedback, Result]{
		name:   name,
		handle: h,
		goal:   goal,
		result: result,
		fields: f,
	}, nil
}

// Name returns the server's logical action name.
func (s *Server[Goal, Feedback, Result]) Name() string { return s.name }

// WaitNewGoal blocks on the goal condvar until shared goal-timestamp
// exceeds currentGoalTS, or timeout elapses.
func (s *Server[Goal, Feedback, Result]) WaitNewGoal(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	if err := s.goal.mutex.Lock(); err != nil {
		return false
	}
	defer s.goal.mutex.Unlock()

	for {
		if s.goal.loadTS() > s.currentGoalTS {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := s.goal.cond.TimedWaitAbs(s.goal.mutex, deadline); err != nil {
			if err == shmsync.ErrCondTimedOut {
				return s.goal.loadTS() > s.currentGoalTS
			}
			return false
		}
	}
}

// AcceptNewGoal transitions status to ACTIVE, records the acceptance time,
// advances currentGoalTS, and returns a copy of the goal payload.
func (s *Server[Goal, Feedback, Result]) AcceptNewGoal() Goal {
	ts := s.goal.loadTS()
	s.currentGoalTS = ts
	s.acceptanceTime = nowMicros()
	s.fields.storeStatus(StatusActive)
	return payload.FromBytes[Goal](s.goal.payload)
}

// RejectNewGoal transitions status to REJECTED, advances currentGoalTS
// (without running it), stamps the result timestamp, and broadcasts the
// result condvar.
func (s *Server[Goal, Feedback, Result]) RejectNewGoal() error {
	s.currentGoalTS = s.goal.loadTS()
	s.fields.storeStatus(StatusRejected)
	s.result.storeTS(nowMicros())
	return s.broadcastResult()
}

// IsPreemptRequested reports whether the client's cancel-timestamp is later
// than the server's recorded acceptance time of the current goal.
func (s *Server[Goal, Feedback, Result]) IsPreemptRequested() bool {
	return s.fields.loadCancelTS() > s.acceptanceTime
}

// SetPreempted transitions status to PREEMPTED, stamps the result
// timestamp, and broadcasts the result condvar.
func (s *Server[Goal, Feedback, Result]) SetPreempted() error {
	s.fields.storeStatus(StatusPreempted)
	s.result.storeTS(nowMicros())
	return s.broadcastResult()
}

// PublishFeedback overwrites the feedback payload. Best-effort: no mutex,
// no condvar, no loss detection (spec.md §4.6 "Feedback semantics").
func (s *Server[Goal, Feedback, Result]) PublishFeedback(value Feedback) {
	copy(s.fields.feedback, payload.ToBytes(&value))
}

// PublishResult writes the result payload, transitions status to
// SUCCEEDED, stamps the result timestamp, and broadcasts the result
// condvar.
func (s *Server[Goal, Feedback, Result]) PublishResult(value Result) error {
	copy(s.result.payload, payload.ToBytes(&value))
	s.fields.storeStatus(StatusSucceeded)
	s.result.storeTS(nowMicros())
	return s.broadcastResult()
}

func (s *Server[Goal, Feedback, Result]) broadcastResult() error {
	if err := s.result.mutex.Lock(); err != nil {
		return shmerr.New("action.Server", s.name, shmerr.NotConnected, err)
	}
	defer s.result.mutex.Unlock()
	if err := s.result.cond.Broadcast(); err != nil {
		return shmerr.New("action.Server", s.name, shmerr.NotConnected, err)
	}
	return nil
}

// Close disconnects without unlinking the segment.
func (s *Server[Goal, Feedback, Result]) Close() error {
	return s.handle.Disconnect()
}

// CloseAndUnlink disconnects and unlinks the segment name iff no other
// holder remains.
func (s *Server[Goal, Feedback, Result]) CloseAndUnlink() error {
	return s.handle.DisconnectAndUnlink()
}
