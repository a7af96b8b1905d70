package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthCachePutAndGet(t *testing.T) {
	c := NewAuthCache(time.Minute)
	sock := newFakeSocket("s1")

	auth := c.Put("sid1", sock, map[string]any{"role": "admin"})
	require.Equal(t, "sid1", auth.SessionID)

	got, ok := c.Get("sid1")
	require.True(t, ok)
	assert.Equal(t, "admin", got.Metadata["role"])
	assert.Equal(t, "sid1", got.Metadata["sessionID"])
	assert.True(t, c.HasAnyFor(sock))
}

func TestAuthCacheTTLExpiry(t *testing.T) {
	c := NewAuthCache(20 * time.Millisecond)
	sock := newFakeSocket("s1")
	c.Put("sid1", sock, nil)

	time.Sleep(80 * time.Millisecond)
	_, ok := c.Get("sid1")
	assert.False(t, ok)
	assert.False(t, c.HasAnyFor(sock))
}

func TestAuthCacheCancelAllForSocket(t *testing.T) {
	c := NewAuthCache(time.Minute)
	sock := newFakeSocket("s1")
	c.Put("sid1", sock, nil)
	c.Put("sid2", sock, nil)

	c.CancelAllFor(sock)

	_, ok1 := c.Get("sid1")
	_, ok2 := c.Get("sid2")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.False(t, c.HasAnyFor(sock))
}

func TestAuthCacheZeroTimeoutEvictsImmediately(t *testing.T) {
	c := NewAuthCache(0)
	sock := newFakeSocket("s1")
	c.Put("sid1", sock, nil)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("sid1")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestAuthCacheMetadataForSocketAggregates(t *testing.T) {
	c := NewAuthCache(time.Minute)
	sock := newFakeSocket("s1")
	c.Put("sid1", sock, map[string]any{"a": 1})
	c.Put("sid2", sock, map[string]any{"b": 2})

	metadata := c.MetadataForSocket(sock)
	assert.Len(t, metadata, 2)
}
