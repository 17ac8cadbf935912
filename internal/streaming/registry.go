package streaming

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStreamTTL is how long a stream URL stays valid without renewal
const DefaultStreamTTL = time.Hour

// stream is one registered envelope. The authentication result is cached
// here so the full-ciphertext tag check runs once per stream, not once per
// request.
type stream struct {
	path      string
	size      int64
	mime      string
	expiresAt time.Time

	auth    sync.Once
	authErr error
}

// Registry maps opaque stream ids to local envelope files. Ids are
// unguessable uuids; holding a valid id is the only capability a player
// needs, and expiry revokes it.
type Registry struct {
	ttl time.Duration

	mu      sync.Mutex
	streams map[string]*stream
}

// NewRegistry creates a registry with the given TTL; zero means
// DefaultStreamTTL
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultStreamTTL
	}
	return &Registry{
		ttl:     ttl,
		streams: make(map[string]*stream),
	}
}

// Create registers an envelope file and returns its stream id
func (r *Registry) Create(path string, size int64, mime string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = &stream{
		path:      path,
		size:      size,
		mime:      mime,
		expiresAt: time.Now().Add(r.ttl),
	}
	return id
}

// lookup resolves a stream id, evicting it if expired. A hit renews the TTL
// so an actively playing stream never expires under the player.
func (r *Registry) lookup(id string, now time.Time) (*stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.streams[id]
	if !ok {
		return nil, false
	}
	if now.After(st.expiresAt) {
		delete(r.streams, id)
		return nil, false
	}
	st.expiresAt = now.Add(r.ttl)
	return st, true
}

// Revoke removes a stream id immediately
func (r *Registry) Revoke(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[id]; !ok {
		return false
	}
	delete(r.streams, id)
	return true
}

// RevokePath removes every stream backed by the given file, typically
// because the course owning it was deleted
func (r *Registry) RevokePath(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, st := range r.streams {
		if st.path == path {
			delete(r.streams, id)
			removed++
		}
	}
	return removed
}

// Purge evicts every expired stream and returns how many were removed
func (r *Registry) Purge(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, st := range r.streams {
		if now.After(st.expiresAt) {
			delete(r.streams, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of registered streams
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
