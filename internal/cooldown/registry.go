// Package cooldown tracks per-actor, per-ability cooldown expiry ticks and
// the flags that suspend cooldown checks for an actor or one of its scopes.
package cooldown

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Scope narrows a disable flag to something an actor carries, such as a
// bound item. GlobalScope addresses the actor as a whole.
type Scope string

const GlobalScope Scope = ""

// Entry is one live cooldown.
type Entry struct {
	Actor      uuid.UUID `json:"actor"`
	Ability    string    `json:"ability"`
	ExpiryTick int64     `json:"expiryTick"`
}

type flagKey struct {
	actor uuid.UUID
	scope Scope
}

// Registry is the in-memory cooldown store. The tick thread writes; any
// goroutine may read.
//
// A nil actor or empty ability key is never on cooldown. Callers that cannot
// resolve an actor get fail-open behaviour instead of a panic.
type Registry struct {
	mu       sync.RWMutex
	expiries map[uuid.UUID]map[string]int64
	disabled map[flagKey]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		expiries: make(map[uuid.UUID]map[string]int64),
		disabled: make(map[flagKey]struct{}),
	}
}

// IsOnCooldown reports whether ability is still cooling down for actor at
// tick now. The expiry tick itself is not on cooldown.
func (r *Registry) IsOnCooldown(actor uuid.UUID, ability string, now int64) bool {
	return r.IsOnCooldownScoped(actor, ability, now, GlobalScope)
}

// IsOnCooldownScoped is IsOnCooldown that also honours the disable flag for
// scope.
func (r *Registry) IsOnCooldownScoped(actor uuid.UUID, ability string, now int64, scope Scope) bool {
	return r.RemainingScoped(actor, ability, now, scope) > 0
}

// Remaining returns the ticks left on the cooldown, never negative.
func (r *Registry) Remaining(actor uuid.UUID, ability string, now int64) int64 {
	return r.RemainingScoped(actor, ability, now, GlobalScope)
}

// RemainingScoped returns zero when actor-level or scope-level cooldowns are
// disabled.
func (r *Registry) RemainingScoped(actor uuid.UUID, ability string, now int64, scope Scope) int64 {
	if r == nil || actor == uuid.Nil || ability == "" {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.disabledLocked(actor, scope) {
		return 0
	}
	expiry, ok := r.expiries[actor][ability]
	if !ok || now >= expiry {
		return 0
	}
	return expiry - now
}

// Set records the absolute expiry tick for ability, replacing any previous
// value. Negative expiries are ignored.
func (r *Registry) Set(actor uuid.UUID, ability string, expiryTick int64) {
	if r == nil || actor == uuid.Nil || ability == "" || expiryTick < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	abilities, ok := r.expiries[actor]
	if !ok {
		abilities = make(map[string]int64)
		r.expiries[actor] = abilities
	}
	abilities[ability] = expiryTick
}

func (r *Registry) Clear(actor uuid.UUID, ability string) {
	if r == nil || actor == uuid.Nil || ability == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	abilities, ok := r.expiries[actor]
	if !ok {
		return
	}
	delete(abilities, ability)
	if len(abilities) == 0 {
		delete(r.expiries, actor)
	}
}

// ClearAll drops every cooldown and disable flag held by actor and returns
// how many cooldown entries were removed.
func (r *Registry) ClearAll(actor uuid.UUID) int {
	if r == nil || actor == uuid.Nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := len(r.expiries[actor])
	delete(r.expiries, actor)
	for key := range r.disabled {
		if key.actor == actor {
			delete(r.disabled, key)
		}
	}
	return removed
}

// SetCooldownDisabled toggles the disable flag for actor within scope.
// GlobalScope and item scopes are independent keys.
func (r *Registry) SetCooldownDisabled(actor uuid.UUID, scope Scope, disabled bool) {
	if r == nil || actor == uuid.Nil {
		return
	}
	key := flagKey{actor: actor, scope: scope}
	r.mu.Lock()
	defer r.mu.Unlock()
	if disabled {
		r.disabled[key] = struct{}{}
		return
	}
	delete(r.disabled, key)
}

// IsCooldownDisabled reports the flag for exactly (actor, scope); it does
// not fall back to the actor-level flag.
func (r *Registry) IsCooldownDisabled(actor uuid.UUID, scope Scope) bool {
	if r == nil || actor == uuid.Nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.disabled[flagKey{actor: actor, scope: scope}]
	return ok
}

func (r *Registry) disabledLocked(actor uuid.UUID, scope Scope) bool {
	if _, ok := r.disabled[flagKey{actor: actor, scope: GlobalScope}]; ok {
		return true
	}
	if scope == GlobalScope {
		return false
	}
	_, ok := r.disabled[flagKey{actor: actor, scope: scope}]
	return ok
}

// Sweep removes entries whose expiry is at or before now and returns the
// number removed.
func (r *Registry) Sweep(now int64) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for actor, abilities := range r.expiries {
		for ability, expiry := range abilities {
			if now >= expiry {
				delete(abilities, ability)
				removed++
			}
		}
		if len(abilities) == 0 {
			delete(r.expiries, actor)
		}
	}
	return removed
}

// Entries lists actor's cooldowns that are still running at now, ordered by
// ability key.
func (r *Registry) Entries(actor uuid.UUID, now int64) []Entry {
	if r == nil || actor == uuid.Nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	abilities := r.expiries[actor]
	if len(abilities) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(abilities))
	for ability, expiry := range abilities {
		if now >= expiry {
			continue
		}
		entries = append(entries, Entry{Actor: actor, Ability: ability, ExpiryTick: expiry})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ability < entries[j].Ability })
	return entries
}

// Len counts stored entries, expired ones included until swept.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, abilities := range r.expiries {
		total += len(abilities)
	}
	return total
}

// Shutdown discards all state. It may be called more than once.
func (r *Registry) Shutdown() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expiries = make(map[uuid.UUID]map[string]int64)
	r.disabled = make(map[flagKey]struct{})
}
