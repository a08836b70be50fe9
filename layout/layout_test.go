package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CalculateRingLayout_Deterministic(t *testing.T) {
	a, err := CalculateRingLayout(32, 4)
	require.NoError(t, err)
	b, err := CalculateRingLayout(32, 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func Test_CalculateRingLayout_FieldsAreOrderedAndNonOverlapping(t *testing.T) {
	l, err := CalculateRingLayout(24, 3)
	require.NoError(t, err)

	assert.Equal(t, 0, l.InitFlagOffset)
	assert.Less(t, l.InitFlagOffset, l.PthreadInitFlagOffset)
	assert.Less(t, l.PthreadInitFlagOffset, l.MutexOffset)
	assert.Less(t, l.MutexOffset, l.CondOffset)
	assert.Less(t, l.CondOffset, l.ElementSizeOffset)
	assert.Less(t, l.ElementSizeOffset, l.SlotCountOffset)
	assert.Less(t, l.SlotCountOffset, l.TimestampsOffset)
	assert.Less(t, l.TimestampsOffset, l.DataOffset)

	assert.GreaterOrEqual(t, l.DataOffset-l.TimestampsOffset, 8*l.SlotCount)
	assert.Equal(t, int64(l.DataOffset+l.ElementSize*l.SlotCount), l.TotalSize)
}

func Test_CalculateRingLayout_AllOffsetsAligned(t *testing.T) {
	l, err := CalculateRingLayout(13, 5)
	require.NoError(t, err)

	for _, off := range []int{l.MutexOffset, l.CondOffset, l.ElementSizeOffset, l.SlotCountOffset, l.TimestampsOffset, l.DataOffset} {
		assert.Zerof(t, off%minAlign, "offset %d not %d-byte aligned", off, minAlign)
	}
}

func Test_CalculateRingLayout_RejectsInvalidInput(t *testing.T) {
	_, err := CalculateRingLayout(0, 4)
	assert.Error(t, err)

	_, err = CalculateRingLayout(8, 0)
	assert.Error(t, err)
}

func Test_CalculateServiceLayout_ChannelsDoNotOverlap(t *testing.T) {
	l, err := CalculateServiceLayout(16, 32)
	require.NoError(t, err)

	assert.Less(t, l.ReqPayloadOffset+l.ReqSize, l.ResMutexOffset+1)
	assert.Equal(t, int64(l.ResPayloadOffset+l.ResSize), l.TotalSize)
}

func Test_CalculateActionLayout_ChannelsDoNotOverlap(t *testing.T) {
	l, err := CalculateActionLayout(8, 8, 16)
	require.NoError(t, err)

	assert.LessOrEqual(t, l.GoalPayloadOffset+l.GoalSize, l.ResultMutexOffset)
	assert.LessOrEqual(t, l.ResultPayloadOffset+l.ResultSize, l.FeedbackPayloadOffset)
	assert.LessOrEqual(t, l.FeedbackPayloadOffset+l.FeedbackSize, l.StatusOffset)
	assert.Equal(t, int64(l.CancelTimestampOffset+8), l.TotalSize)
}

func Test_CalculateActionLayout_RejectsInvalidInput(t *testing.T) {
	_, err := CalculateActionLayout(0, 8, 8)
	assert.Error(t, err)
	_, err = CalculateActionLayout(8, 0, 8)
	assert.Error(t, err)
	_, err = CalculateActionLayout(8, 8, 0)
	assert.Error(t, err)
}
