package shmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Error_IsMatchesKind(t *testing.T) {
	err := New("ring.Publish", "mytopic", NoData, nil)

	assert.True(t, errors.Is(err, NoData))
	assert.False(t, errors.Is(err, Expired))
}

func Test_Error_IsMatchesOtherErrorWithSameKind(t *testing.T) {
	a := New("ring.Publish", "x", Timeout, nil)
	b := New("service.Call", "y", Timeout, nil)

	assert.True(t, errors.Is(a, b))
}

func Test_Error_UnwrapExposesInner(t *testing.T) {
	inner := errors.New("boom")
	err := New("segment.Open", "name", SegmentOpen, inner)

	assert.ErrorIs(t, err, inner)
}

func Test_Error_MessageIncludesOpNameAndInner(t *testing.T) {
	inner := fmt.Errorf("enoent")
	err := New("segment.Open", "mytopic", SegmentOpen, inner)

	msg := err.Error()
	assert.Contains(t, msg, "segment.Open")
	assert.Contains(t, msg, string(SegmentOpen))
	assert.Contains(t, msg, "mytopic")
	assert.Contains(t, msg, "enoent")
}
