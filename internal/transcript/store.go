package transcript

import "sync"

// Store is an ordered, append-only (until Clear) list of turns. Append is
// atomic with respect to concurrent appenders; Snapshot never observes a
// partially applied append.
type Store struct {
	mu       sync.RWMutex
	turns    []Turn
	maxTurns int
}

type Option func(*Store)

// WithMaxTurns keeps only the newest n turns (sliding window). Zero or a
// negative value means unbounded.
func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Append(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, turn)
	if s.maxTurns > 0 && len(s.turns) > s.maxTurns {
		// Copy so the dropped prefix can be collected.
		kept := make([]Turn, s.maxTurns)
		copy(kept, s.turns[len(s.turns)-s.maxTurns:])
		s.turns = kept
	}
}

// Snapshot returns a copy of the turns in insertion order.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
