package bridge

import (
	"reflect"
	"regexp"
	"sync"
)

// MatchEngine decides, for a given direction/address/body triple, whether
// a frame is accepted and whether it requires authorisation. It is pure
// and safe for concurrent use: the only mutable state is the memoised
// regex cache, guarded by its own mutex.
type MatchEngine struct {
	inbound  []PermissionMatch
	outbound []PermissionMatch
	replies  *ReplyAddressRegistry

	reMu    sync.Mutex
	reCache map[string]*regexp.Regexp
}

// NewMatchEngine builds a MatchEngine over the given permission lists.
// replies is consulted for the inbound reply fast-path.
func NewMatchEngine(inbound, outbound []PermissionMatch, replies *ReplyAddressRegistry) *MatchEngine {
	return &MatchEngine{
		inbound:  inbound,
		outbound: outbound,
		replies:  replies,
		reCache:  make(map[string]*regexp.Regexp),
	}
}

// Match evaluates (direction, address, body) against the configured
// permission list for that direction.
func (m *MatchEngine) Match(direction Direction, address string, body any) MatchResult {
	if direction == Inbound && m.replies.Consume(address) {
		return MatchResult{DoesMatch: true, RequiresAuth: false}
	}

	list := m.inbound
	if direction == Outbound {
		list = m.outbound
	}

	for _, entry := range list {
		if !m.addressMatches(entry, address) {
			continue
		}
		if !m.bodyMatches(entry, body) {
			continue
		}
		return MatchResult{DoesMatch: true, RequiresAuth: entry.RequiresAuth}
	}
	return MatchResult{}
}

func (m *MatchEngine) addressMatches(entry PermissionMatch, address string) bool {
	switch {
	case entry.Address != nil:
		return *entry.Address == address
	case entry.AddressRegex != nil:
		re := m.compile(*entry.AddressRegex)
		return re != nil && re.MatchString(address)
	default:
		return true
	}
}

// bodyMatches applies entry.Match against body. Per spec, structural
// matching is skipped (not failed) when body is not a structured object —
// non-JSON-object bodies bypass body constraints entirely.
func (m *MatchEngine) bodyMatches(entry PermissionMatch, body any) bool {
	if entry.Match == nil {
		return true
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return true
	}
	for k, want := range entry.Match {
		got, present := obj[k]
		if !present || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func (m *MatchEngine) compile(pattern string) *regexp.Regexp {
	m.reMu.Lock()
	defer m.reMu.Unlock()

	if re, ok := m.reCache[pattern]; ok {
		return re
	}
	// Anchor for full-match semantics, as spec requires.
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		m.reCache[pattern] = nil
		return nil
	}
	m.reCache[pattern] = re
	return re
}
