package transcript

import "sync"

// Registry hands out a Store per session id. In shared mode every session
// receives the same process-wide Store: turns from different connections
// then interleave in arrival order and pollute each other's context.
type Registry struct {
	mu       sync.Mutex
	stores   map[string]*Store
	shared   *Store
	maxTurns int
}

func NewRegistry(maxTurns int) *Registry {
	return &Registry{stores: make(map[string]*Store), maxTurns: maxTurns}
}

func NewSharedRegistry(maxTurns int) *Registry {
	r := NewRegistry(maxTurns)
	r.shared = NewStore(WithMaxTurns(maxTurns))
	return r
}

// Open returns the Store for sessionID, creating it on first use.
func (r *Registry) Open(sessionID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[sessionID]; ok {
		return s
	}
	s := r.shared
	if s == nil {
		s = NewStore(WithMaxTurns(r.maxTurns))
	}
	r.stores[sessionID] = s
	return s
}

func (r *Registry) Get(sessionID string) (*Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[sessionID]
	return s, ok
}

// Close forgets sessionID. A per-connection Store is discarded with it; the
// shared Store lives for the whole process.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, sessionID)
}

func (r *Registry) Shared() bool {
	return r.shared != nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
