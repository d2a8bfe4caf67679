package presence

import (
	"sort"
	"sync"
)

// Registry maps live connection ids to user ids and back. A user may hold any
// number of connections at once.
type Registry struct {
	mu     sync.RWMutex
	owners map[string]string
	byUser map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Register binds connID to userID and reports whether it is the user's first
// live connection. Registering the same pair twice is a no-op. A connection id
// bound to another user is moved.
func (r *Registry) Register(connID, userID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[connID]; ok {
		if owner == userID {
			return false
		}
		r.removeLocked(connID, owner)
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	first = len(conns) == 0
	conns[connID] = struct{}{}
	r.owners[connID] = userID
	return first
}

// Unregister removes connID. ok is false when the connection is unknown, which
// makes a second call harmless. last is decided under the same lock as the
// removal, so a concurrent Register for the same user cannot slip in between.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.owners[connID]
	if !ok {
		return "", false, false
	}
	last = r.removeLocked(connID, userID)
	return userID, last, true
}

func (r *Registry) removeLocked(connID, userID string) (emptied bool) {
	delete(r.owners, connID)
	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a copy of the user's connection ids, empty when offline.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[connID]
	return userID, ok
}

// OnlineUsers lists users with at least one connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
