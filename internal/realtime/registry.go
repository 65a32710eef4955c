package realtime

import "sync"

// Registry is the in-process mapping from a user hex to every active
// connection handle that user currently holds — the global /events
// socket plus zero or more /chat/{hex} sockets. It is the only shared
// mutable state inside an instance and is deliberately narrow: add,
// remove, get, and a count of connected users. Callers reach it only
// through these methods.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Client]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*Client]struct{})}
}

// Add records handle as an active connection for userHex.
func (r *Registry) Add(userHex string, handle *Client) {
	if r == nil || handle == nil || userHex == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userHex]
	if !ok {
		set = make(map[*Client]struct{}, 2)
		r.conns[userHex] = set
	}
	set[handle] = struct{}{}
}

// Remove drops handle from userHex's active set. Idempotent.
func (r *Registry) Remove(userHex string, handle *Client) {
	if r == nil || handle == nil || userHex == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userHex]
	if !ok {
		return
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(r.conns, userHex)
	}
}

// Get returns a snapshot slice of the active connection handles for
// userHex. The slice is safe to range over without holding any lock.
func (r *Registry) Get(userHex string) []*Client {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.conns[userHex]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Count reports how many users currently hold at least one connection.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
