package topic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmipc/segment"
)

type sample struct {
	Price float64
	Qty   int64
}

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("shmipc-topic-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func Test_PublisherSubscriber_RoundTrip(t *testing.T) {
	name := uniqueName(t)

	pub, err := NewPublisher[sample](name, 0, segment.DefaultPerm)
	require.NoError(t, err)
	defer pub.CloseAndUnlink()

	sub, err := NewSubscriber[sample](name, 0)
	require.NoError(t, err)
	defer sub.Close()

	v := sample{Price: 101.5, Qty: 7}
	require.NoError(t, pub.Publish(v))

	got, ok := sub.Subscribe()
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func Test_Subscriber_ReportsNotConnectedBeforePublisherExists(t *testing.T) {
	name := uniqueName(t)

	sub, err := NewSubscriber[sample](name, 0)
	require.NoError(t, err)
	defer sub.Close()

	_, ok := sub.Subscribe()
	assert.False(t, ok)
}

func Test_Subscriber_AttachesAfterPublisherAppearsLate(t *testing.T) {
	name := uniqueName(t)

	sub, err := NewSubscriber[sample](name, 0)
	require.NoError(t, err)
	defer sub.Close()

	pub, err := NewPublisher[sample](name, 0, segment.DefaultPerm)
	require.NoError(t, err)
	defer pub.CloseAndUnlink()

	v := sample{Price: 2, Qty: 3}
	require.NoError(t, pub.Publish(v))

	deadline := time.Now().Add(2 * time.Second)
	var got sample
	var ok bool
	for time.Now().Before(deadline) {
		got, ok = sub.Subscribe()
		if ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func Test_WaitFor_WakesOnPublish(t *testing.T) {
	name := uniqueName(t)

	pub, err := NewPublisher[sample](name, 0, segment.DefaultPerm)
	require.NoError(t, err)
	defer pub.CloseAndUnlink()

	sub, err := NewSubscriber[sample](name, 0)
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan bool, 1)
	go func() { done <- sub.WaitFor(time.Second) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pub.Publish(sample{Price: 1}))

	assert.True(t, <-done)
}

func Test_SequencePublisherSubscriber_GrowsAndRoundTrips(t *testing.T) {
	name := uniqueName(t)

	pub, err := NewSequencePublisher[int64](name, 0, 2, segment.DefaultPerm)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewSequenceSubscriber[int64](name, 0, 2)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, pub.Publish([]int64{1, 2}))
	got, ok := sub.Subscribe()
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, got)

	// Grow beyond initial capacity.
	require.NoError(t, pub.Publish([]int64{1, 2, 3, 4, 5}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, ok = sub.Subscribe()
		if ok && len(got) == 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
}

func Test_SequenceSubscriber_EmptySequence(t *testing.T) {
	name := uniqueName(t)

	pub, err := NewSequencePublisher[int64](name, 0, 4, segment.DefaultPerm)
	require.NoError(t, err)
	defer pub.Close()

	sub, err := NewSequenceSubscriber[int64](name, 0, 4)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, pub.Publish(nil))

	got, ok := sub.Subscribe()
	require.True(t, ok)
	assert.Empty(t, got)
}
