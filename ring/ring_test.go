package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmipc/layout"
)

const testReadyTimeout = time.Second

func newTestSegment(t *testing.T, elementSize, slotCount int) ([]byte, layout.RingLayout) {
	t.Helper()
	l, err := layout.CalculateRingLayout(elementSize, slotCount)
	require.NoError(t, err)
	return make([]byte, l.TotalSize), l
}

func Test_AttachPublisher_InitializesOnce(t *testing.T) {
	data, l := newTestSegment(t, 8, 3)

	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	require.NotNil(t, pub)

	// A second attach to the already-initialized segment must not re-run
	// initialization; it just observes init_flag==1.
	pub2, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	require.NotNil(t, pub2)
}

func Test_PublishSubscribe_NewestWins(t *testing.T) {
	data, l := newTestSegment(t, 8, 3)

	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)

	sub := AttachSubscriber(data, l)
	require.NoError(t, sub.WaitReady(testReadyTimeout))

	out := make([]byte, 8)
	ok, err := sub.Subscribe(out)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "no_data")

	require.NoError(t, pub.Publish([]byte{1, 0, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, pub.Publish([]byte{2, 0, 0, 0, 0, 0, 0, 0}))

	ok, err = sub.Subscribe(out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byte(2), out[0])
}

func Test_Publish_RejectsWrongSizedPayload(t *testing.T) {
	data, l := newTestSegment(t, 8, 2)
	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)

	err = pub.Publish([]byte{1, 2, 3})
	assert.Error(t, err)
}

func Test_Subscribe_RejectsWrongSizedOutputBuffer(t *testing.T) {
	data, l := newTestSegment(t, 8, 2)
	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(make([]byte, 8)))

	_, err = pub.Subscribe(make([]byte, 4))
	assert.Error(t, err)
}

func Test_Subscribe_ReportsExpired(t *testing.T) {
	data, l := newTestSegment(t, 8, 2)
	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	pub.SetExpiry(time.Microsecond)

	require.NoError(t, pub.Publish(make([]byte, 8)))
	time.Sleep(2 * time.Millisecond)

	_, err = pub.Subscribe(make([]byte, 8))
	assert.ErrorContains(t, err, "expired")
}

func Test_WaitForUpdate_WakesOnPublish(t *testing.T) {
	data, l := newTestSegment(t, 8, 2)
	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	sub := AttachSubscriber(data, l)
	require.NoError(t, sub.WaitReady(testReadyTimeout))

	var wg sync.WaitGroup
	wg.Add(1)
	var woke bool
	go func() {
		defer wg.Done()
		woke, _ = sub.WaitForUpdate(time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pub.Publish(make([]byte, 8)))
	wg.Wait()

	assert.True(t, woke)
}

func Test_WaitForUpdate_TimesOutWithoutPublish(t *testing.T) {
	data, l := newTestSegment(t, 8, 2)
	_, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	sub := AttachSubscriber(data, l)
	require.NoError(t, sub.WaitReady(testReadyTimeout))

	woke, err := sub.WaitForUpdate(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woke)
}

func Test_ConcurrentPublishers_SubscriberReadsCommittedValue(t *testing.T) {
	data, l := newTestSegment(t, 8, 4)
	pub, err := AttachPublisher(data, l, testReadyTimeout)
	require.NoError(t, err)
	sub := AttachSubscriber(data, l)
	require.NoError(t, sub.WaitReady(testReadyTimeout))

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, 8)
			buf[0] = byte(i)
			_ = pub.Publish(buf)
		}(i)
	}
	wg.Wait()

	out := make([]byte, 8)
	ok, err := sub.Subscribe(out)
	require.NoError(t, err)
	assert.True(t, ok)
}
