package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplyAddressRegistryConsumeOnce(t *testing.T) {
	r := NewReplyAddressRegistry(time.Minute)
	r.Add("r1")

	assert.True(t, r.Consume("r1"))
	assert.False(t, r.Consume("r1"))
}

func TestReplyAddressRegistryExpiry(t *testing.T) {
	r := NewReplyAddressRegistry(20 * time.Millisecond)
	r.Add("r1")

	time.Sleep(80 * time.Millisecond)
	assert.False(t, r.Consume("r1"))
}

func TestReplyAddressRegistryDuplicatesCollapse(t *testing.T) {
	r := NewReplyAddressRegistry(time.Minute)
	r.Add("r1")
	r.Add("r1")

	assert.True(t, r.Consume("r1"))
	assert.False(t, r.Consume("r1"))
}
