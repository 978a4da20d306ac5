package game

import "sync"

// Store owns the State of one session. All writes go through Apply.
type Store struct {
	mu    sync.Mutex
	state State
	rules Rules
}

func NewStore(rules Rules) *Store {
	return &Store{state: NewState(), rules: rules}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Snapshot returns the outbound view of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Apply reduces actions in order and returns their effects. Nothing is
// dispatched from inside the lock; callers project the effects afterwards.
func (s *Store) Apply(actions ...Action) []Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	var effects []Effect
	for _, a := range actions {
		if a == nil {
			continue
		}
		var eff []Effect
		s.state, eff = Reduce(s.state, a, s.rules)
		effects = append(effects, eff...)
	}
	return effects
}

// SetLocation records the latest GPS fix and place names.
func (s *Store) SetLocation(loc Location) {
	s.mu.Lock()
	s.state.Location = loc
	s.mu.Unlock()
}

// Reset returns the store to a fresh session, keeping the location.
func (s *Store) Reset() {
	s.mu.Lock()
	loc := s.state.Location
	s.state = NewState()
	s.state.Location = loc
	s.mu.Unlock()
}
