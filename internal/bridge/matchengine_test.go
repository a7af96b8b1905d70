package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestMatchEngineRejectAllDefault(t *testing.T) {
	m := NewMatchEngine(nil, nil, NewReplyAddressRegistry(time.Second))
	result := m.Match(Inbound, "foo", map[string]any{})
	assert.False(t, result.DoesMatch)
}

func TestMatchEngineFirstMatchWins(t *testing.T) {
	rules := []PermissionMatch{
		{Address: strPtr("foo"), RequiresAuth: false},
		{Address: strPtr("foo"), RequiresAuth: true},
	}
	m := NewMatchEngine(rules, nil, NewReplyAddressRegistry(time.Second))
	result := m.Match(Inbound, "foo", map[string]any{})
	assert.True(t, result.DoesMatch)
	assert.False(t, result.RequiresAuth)
}

func TestMatchEngineBodyConstraintMismatch(t *testing.T) {
	rules := []PermissionMatch{
		{Address: strPtr("foo"), Match: map[string]any{"x": float64(1)}},
	}
	m := NewMatchEngine(rules, nil, NewReplyAddressRegistry(time.Second))
	result := m.Match(Inbound, "foo", map[string]any{"x": float64(2)})
	assert.False(t, result.DoesMatch)
}

func TestMatchEngineBodyConstraintSkippedForNonObject(t *testing.T) {
	rules := []PermissionMatch{
		{Address: strPtr("foo"), Match: map[string]any{"x": float64(1)}},
	}
	m := NewMatchEngine(rules, nil, NewReplyAddressRegistry(time.Second))
	result := m.Match(Inbound, "foo", "not an object")
	assert.True(t, result.DoesMatch)
}

func TestMatchEngineAddressRegex(t *testing.T) {
	rules := []PermissionMatch{
		{AddressRegex: strPtr("foo\\..*")},
	}
	m := NewMatchEngine(rules, nil, NewReplyAddressRegistry(time.Second))
	assert.True(t, m.Match(Inbound, "foo.bar", nil).DoesMatch)
	assert.False(t, m.Match(Inbound, "foobar", nil).DoesMatch)
	assert.False(t, m.Match(Inbound, "xfoo.bar", nil).DoesMatch)
}

func TestMatchEngineReplyFastPath(t *testing.T) {
	replies := NewReplyAddressRegistry(time.Second)
	replies.Add("reply.123")
	m := NewMatchEngine(nil, nil, replies)

	result := m.Match(Inbound, "reply.123", map[string]any{"anything": true})
	assert.True(t, result.DoesMatch)
	assert.False(t, result.RequiresAuth)

	// Second inbound frame to the same address is no longer fast-pathed,
	// since consume removes the entry (property 3).
	result = m.Match(Inbound, "reply.123", nil)
	assert.False(t, result.DoesMatch)
}

func TestMatchEngineOutboundUsesOutboundList(t *testing.T) {
	inbound := []PermissionMatch{{Address: strPtr("foo")}}
	outbound := []PermissionMatch{{Address: strPtr("bar")}}
	m := NewMatchEngine(inbound, outbound, NewReplyAddressRegistry(time.Second))

	assert.True(t, m.Match(Outbound, "bar", nil).DoesMatch)
	assert.False(t, m.Match(Outbound, "foo", nil).DoesMatch)
}
