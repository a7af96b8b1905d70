package bridge

import (
	"sync"
	"time"
)

// ReplyAddressRegistry whitelists the transient bus addresses that stand
// in for replies to an already-approved send, so the next inbound frame
// addressed there doesn't need to pass the normal permission match. Each
// entry carries its own timer, modeled on sockjs-go's per-session
// time.AfterFunc idiom rather than a periodic sweep, since entries expire
// independently and arbitrarily soon after being added.
type ReplyAddressRegistry struct {
	mu      sync.Mutex
	entries map[string]*time.Timer
	ttl     time.Duration
}

// NewReplyAddressRegistry creates a registry whose entries expire after ttl.
func NewReplyAddressRegistry(ttl time.Duration) *ReplyAddressRegistry {
	return &ReplyAddressRegistry{entries: make(map[string]*time.Timer), ttl: ttl}
}

// Add whitelists addr, scheduling its removal after ttl. Re-adding an
// address already present resets its timer; duplicates collapse to one
// entry, per spec.
func (r *ReplyAddressRegistry) Add(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.entries[addr]; ok {
		t.Stop()
	}
	r.entries[addr] = time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		delete(r.entries, addr)
		r.mu.Unlock()
	})
}

// Consume removes addr if present and reports whether it was present.
// A timer firing after Consume already removed the entry is a no-op,
// since the map lookup in the timer callback will simply miss.
func (r *ReplyAddressRegistry) Consume(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.entries[addr]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.entries, addr)
	return true
}

// Size returns the number of currently whitelisted reply addresses, for
// the admin stats stream.
func (r *ReplyAddressRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
