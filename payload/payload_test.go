package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validStruct struct {
	A int64
	B [4]float64
	C struct {
		D uint32
		E bool
	}
}

type invalidStringField struct {
	Name string
}

type invalidSliceField struct {
	Items []int
}

type invalidPointerField struct {
	Next *validStruct
}

func Test_Validate_AcceptsTriviallyCopyableStruct(t *testing.T) {
	assert.NoError(t, Validate[validStruct]())
	assert.NoError(t, Validate[int64]())
	assert.NoError(t, Validate[[8]byte]())
}

func Test_Validate_RejectsNonTriviallyCopyableFields(t *testing.T) {
	assert.Error(t, Validate[invalidStringField]())
	assert.Error(t, Validate[invalidSliceField]())
	assert.Error(t, Validate[invalidPointerField]())
	assert.Error(t, Validate[any]())
}

func Test_ToBytesFromBytes_RoundTrip(t *testing.T) {
	v := validStruct{A: 42}
	v.B[0] = 1.5
	v.C.D = 7
	v.C.E = true

	b := ToBytes(&v)
	require.Len(t, b, SizeOf[validStruct]())

	got := FromBytes[validStruct](b)
	assert.Equal(t, v, got)
}

func Test_SizeOf_MatchesUnsafeSizeof(t *testing.T) {
	assert.Equal(t, 8, SizeOf[int64]())
	assert.Equal(t, 1, SizeOf[byte]())
}
