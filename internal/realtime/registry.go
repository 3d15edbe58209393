package realtime

import (
	"sort"
	"sync"
)

// Handle is a live transport session that events can be pushed to.
// Send must not block; Close must not call back into the engine.
type Handle interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// Registry maps an identity to its single addressable connection and a
// connection back to its identity.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[Identity]Handle
	byHandle   map[string]Identity
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[Identity]Handle),
		byHandle:   make(map[string]Identity),
	}
}

// Register records id -> h, overwriting any earlier handle for id. The
// superseded handle is returned so the caller can clean up after it.
func (r *Registry) Register(id Identity, h Handle) (superseded Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byIdentity[id]; ok && prev.ID() != h.ID() {
		delete(r.byHandle, prev.ID())
		superseded = prev
	}
	r.byIdentity[id] = h
	r.byHandle[h.ID()] = id
	return superseded
}

// Unregister removes h if it is still the handle registered for its
// identity. ok is false for unknown or superseded handles.
func (r *Registry) Unregister(h Handle) (id Identity, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok = r.byHandle[h.ID()]
	if !ok {
		return "", false
	}
	delete(r.byHandle, h.ID())
	if cur, found := r.byIdentity[id]; found && cur.ID() == h.ID() {
		delete(r.byIdentity, id)
		return id, true
	}
	return "", false
}

func (r *Registry) Resolve(id Identity) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byIdentity[id]
	return h, ok
}

// Owner returns the identity h is currently registered for.
func (r *Registry) Owner(h Handle) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[h.ID()]
	return id, ok
}

// OnlineIdentities returns a sorted snapshot of every registered identity.
func (r *Registry) OnlineIdentities() []Identity {
	r.mu.RLock()
	out := make([]Identity, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handles returns a snapshot of every registered handle.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.byIdentity))
	for _, h := range r.byIdentity {
		out = append(out, h)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
