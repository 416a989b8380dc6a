// Package registry tracks which websocket endpoints belong to which user.
// A user is online while at least one endpoint is registered; the same
// user may hold several concurrent connections from different devices.
package registry

import "sync"

type Registry struct {
	mu sync.RWMutex

	// endpoint ID -> user ID
	identities map[string]string
	// user ID -> set of endpoint IDs
	endpoints map[string]map[string]bool
}

func New() *Registry {
	return &Registry{
		identities: make(map[string]string),
		endpoints:  make(map[string]map[string]bool),
	}
}

// Register binds an endpoint to a user. It reports whether this is the
// user's first live endpoint, i.e. an offline to online transition.
func (r *Registry) Register(endpointID, userID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.identities[endpointID] = userID
	set := r.endpoints[userID]
	if set == nil {
		set = make(map[string]bool)
		r.endpoints[userID] = set
	}
	first = len(set) == 0
	set[endpointID] = true
	return first
}

// Unregister removes an endpoint. It reports the owning user and whether
// this was the user's last endpoint, i.e. an online to offline transition.
// Unknown endpoints are a no-op.
func (r *Registry) Unregister(endpointID string) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.identities[endpointID]
	if !ok {
		return "", false
	}
	delete(r.identities, endpointID)

	set := r.endpoints[userID]
	delete(set, endpointID)
	if len(set) == 0 {
		delete(r.endpoints, userID)
		return userID, true
	}
	return userID, false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints[userID]) > 0
}

// EndpointsFor returns the user's live endpoint IDs.
func (r *Registry) EndpointsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.endpoints[userID]))
	for id := range r.endpoints[userID] {
		ids = append(ids, id)
	}
	return ids
}

// IdentityFor returns the user owning the endpoint, if registered.
func (r *Registry) IdentityFor(endpointID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.identities[endpointID]
	return userID, ok
}

// OnlineUsers returns all users with at least one live endpoint.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		users = append(users, id)
	}
	return users
}

// Connections returns the number of registered endpoints.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
