package stream

import (
	"sync"
	"sync/atomic"

	"github.com/jakubmeysner/kobweb/internal/apis"
)

// Registry tracks every live websocket session. Client ids count up from
// one and are never reused. The map is mutated by the accept and cleanup
// paths while broadcasts iterate it, so it needs safe concurrent ranging;
// a range observes every session live for its whole duration and may or
// may not observe concurrent arrivals.
type Registry struct {
	sessions sync.Map // apis.ClientID -> *Session
	nextID   atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// register assigns the next client id to s and tracks it.
func (reg *Registry) register(s *Session) apis.ClientID {
	id := apis.ClientID(reg.nextID.Add(1))
	s.id = id
	reg.sessions.Store(id, s)
	return id
}

// unregister forgets the session with the given id.
func (reg *Registry) unregister(id apis.ClientID) {
	reg.sessions.Delete(id)
}

// Range visits live sessions until fn returns false.
func (reg *Registry) Range(fn func(*Session) bool) {
	reg.sessions.Range(func(_, value any) bool {
		return fn(value.(*Session))
	})
}

// Len counts live sessions. Diagnostics only; the value is stale the
// moment it returns.
func (reg *Registry) Len() int {
	n := 0
	reg.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
