package action

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmipc/segment"
)

type countGoal struct {
	Target int64
}

type countFeedback struct {
	Progress float64
}

type countResult struct {
	Total int64
}

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("shmipc-action-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func Test_Server_InitialStatusIsSucceeded(t *testing.T) {
	name := uniqueName(t)
	srv, err := NewServer[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	assert.Equal(t, StatusSucceeded, srv.fields.loadStatus())
}

func Test_GoalFeedbackResult_HappyPath(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.True(t, srv.WaitNewGoal(time.Second))
		goal := srv.AcceptNewGoal()

		for i := int64(1); i <= goal.Target; i++ {
			srv.PublishFeedback(countFeedback{Progress: float64(i) / float64(goal.Target)})
			time.Sleep(5 * time.Millisecond)
		}
		require.NoError(t, srv.PublishResult(countResult{Total: goal.Target}))
	}()

	client, err := NewClient[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.WaitForServer(time.Second))
	require.True(t, client.SendGoal(countGoal{Target: 3}))
	require.True(t, client.WaitForResult(2*time.Second))

	assert.Equal(t, int64(3), client.GetResult().Total)
	assert.Equal(t, StatusSucceeded, client.GetStatus())

	<-done
}

func Test_RejectNewGoal_SetsRejectedStatus(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.True(t, srv.WaitNewGoal(time.Second))
		require.NoError(t, srv.RejectNewGoal())
	}()

	client, err := NewClient[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.WaitForServer(time.Second))
	require.True(t, client.SendGoal(countGoal{Target: 1}))
	require.True(t, client.WaitForResult(time.Second))
	assert.Equal(t, StatusRejected, client.GetStatus())

	<-done
}

func Test_CancelGoal_ServerObservesPreemptRequest(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.True(t, srv.WaitNewGoal(time.Second))
		srv.AcceptNewGoal()

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if srv.IsPreemptRequested() {
				require.NoError(t, srv.SetPreempted())
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Error("preempt request never observed")
	}()

	client, err := NewClient[countGoal, countFeedback, countResult](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.WaitForServer(time.Second))
	require.True(t, client.SendGoal(countGoal{Target: 100}))
	time.Sleep(20 * time.Millisecond)
	client.CancelGoal()

	require.True(t, client.WaitForResult(2*time.Second))
	assert.Equal(t, StatusPreempted, client.GetStatus())

	<-done
}
