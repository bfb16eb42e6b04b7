package shadow

import "sync"

// States holds the tracked state of substitute types for one sandbox.
// Tests bound to different sandboxes never see each other's state.
type States struct {
	mu     sync.Mutex
	values map[*Type]any
}

// NewStates returns an empty state table.
func NewStates() *States {
	return &States{values: map[*Type]any{}}
}

// Get returns the state of t, creating it on first use. Types declared
// without WithState have nil state.
func (s *States) Get(t *Type) any {
	if t == nil || t.newState == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[t]
	if !ok {
		v = t.newState()
		s.values[t] = v
	}

	return v
}

// Reset restores the state of t. The reset hook runs against the state of
// this table only; a type with state but no hook gets a fresh state on its
// next use. Reset reports false when t has neither.
func (s *States) Reset(t *Type) bool {
	switch {
	case t.reset != nil:
		t.reset(s.Get(t))

		return true
	case t.newState != nil:
		s.mu.Lock()
		delete(s.values, t)
		s.mu.Unlock()

		return true
	default:
		return false
	}
}
