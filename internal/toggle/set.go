package toggle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Set groups the managers of every toggle ability so lifecycle sweeps can
// release an actor in one call.
type Set struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

func NewSet() *Set {
	return &Set{managers: make(map[string]*Manager)}
}

// Register adds m under its ability key. Keys must be unique.
func (s *Set) Register(m *Manager) error {
	if m == nil {
		return ErrMissingAbility
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.managers[m.Ability()]; exists {
		return fmt.Errorf("toggle: manager for %q already registered", m.Ability())
	}
	s.managers[m.Ability()] = m
	return nil
}

func (s *Set) Get(ability string) (*Manager, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.managers[ability]
	return m, ok
}

func (s *Set) sorted() []*Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ability() < out[j].Ability() })
	return out
}

// DeactivateAll force-ends every toggle actor holds and returns the
// ability keys that were released.
func (s *Set) DeactivateAll(actor uuid.UUID, reason Reason) []string {
	if s == nil || actor == uuid.Nil {
		return nil
	}
	var released []string
	for _, m := range s.sorted() {
		if m.ForceDeactivate(actor, reason) {
			released = append(released, m.Ability())
		}
	}
	return released
}

// ActiveFor lists the toggle abilities actor currently has on.
func (s *Set) ActiveFor(actor uuid.UUID) []string {
	if s == nil {
		return nil
	}
	var keys []string
	for _, m := range s.sorted() {
		if m.IsActive(actor) {
			keys = append(keys, m.Ability())
		}
	}
	return keys
}

// Active lists every live activation across all abilities.
func (s *Set) Active() []Activation {
	if s == nil {
		return nil
	}
	var out []Activation
	for _, m := range s.sorted() {
		out = append(out, m.Active()...)
	}
	return out
}

// Count returns the number of live activations.
func (s *Set) Count() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, m := range s.sorted() {
		total += m.Len()
	}
	return total
}

// Shutdown ends every activation in every manager.
func (s *Set) Shutdown() {
	if s == nil {
		return
	}
	for _, m := range s.sorted() {
		m.Shutdown()
	}
}
