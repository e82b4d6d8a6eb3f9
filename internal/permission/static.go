// Package permission provides an in-memory permission service for hosts
// without their own.
package permission

import (
	"sync"

	"github.com/google/uuid"
)

// Wildcard grants or denies every ability.
const Wildcard = "*"

// Static answers HasPermission from explicit grants and denials. Denials
// win over grants; actors with neither fall back to the default.
type Static struct {
	mu           sync.RWMutex
	defaultAllow bool
	grants       map[uuid.UUID]map[string]struct{}
	denials      map[uuid.UUID]map[string]struct{}
}

// NewStatic returns a service whose unmatched checks return defaultAllow.
func NewStatic(defaultAllow bool) *Static {
	return &Static{
		defaultAllow: defaultAllow,
		grants:       make(map[uuid.UUID]map[string]struct{}),
		denials:      make(map[uuid.UUID]map[string]struct{}),
	}
}

// AllowAll returns a service that permits everything not explicitly denied.
func AllowAll() *Static {
	return NewStatic(true)
}

func (s *Static) Grant(actor uuid.UUID, abilities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.grants, actor, abilities)
	remove(s.denials, actor, abilities)
}

func (s *Static) Deny(actor uuid.UUID, abilities ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	add(s.denials, actor, abilities)
	remove(s.grants, actor, abilities)
}

// Forget drops every rule for actor.
func (s *Static) Forget(actor uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, actor)
	delete(s.denials, actor)
}

// HasPermission satisfies the cast pipeline's permission dependency.
func (s *Static) HasPermission(actor uuid.UUID, ability string) bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if matches(s.denials[actor], ability) {
		return false
	}
	if matches(s.grants[actor], ability) {
		return true
	}
	return s.defaultAllow
}

func matches(rules map[string]struct{}, ability string) bool {
	if len(rules) == 0 {
		return false
	}
	if _, ok := rules[Wildcard]; ok {
		return true
	}
	_, ok := rules[ability]
	return ok
}

func add(rules map[uuid.UUID]map[string]struct{}, actor uuid.UUID, abilities []string) {
	set, ok := rules[actor]
	if !ok {
		set = make(map[string]struct{}, len(abilities))
		rules[actor] = set
	}
	for _, ability := range abilities {
		set[ability] = struct{}{}
	}
}

func remove(rules map[uuid.UUID]map[string]struct{}, actor uuid.UUID, abilities []string) {
	set, ok := rules[actor]
	if !ok {
		return
	}
	for _, ability := range abilities {
		delete(set, ability)
	}
	if len(set) == 0 {
		delete(rules, actor)
	}
}
