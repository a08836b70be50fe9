package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_CanonicalPath_SlashesBecomeUnderscores(t *testing.T) {
	assert.Equal(t, "/dev/shm/shm_a_b_c", CanonicalPath("a/b/c"))
	assert.Equal(t, "/dev/shm/shm_a_b_c", CanonicalPath("/a/b/c"))
}

func Test_CanonicalPath_Deterministic(t *testing.T) {
	assert.Equal(t, CanonicalPath("topic1"), CanonicalPath("topic1"))
}

func Test_CanonicalBaseName_HasManagedPrefix(t *testing.T) {
	base := CanonicalBaseName("my-topic")
	assert.Equal(t, "shm_my-topic", base)
	assert.True(t, IsManagedName(base))
}

func Test_IsManagedName_RejectsUnrelatedNames(t *testing.T) {
	assert.False(t, IsManagedName("random-file"))
	assert.False(t, IsManagedName(""))
}
