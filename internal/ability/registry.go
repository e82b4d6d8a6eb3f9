package ability

import (
	"fmt"
	"sort"
	"sync"

	"spellforge/server/internal/ability/catalog"
)

// Overlay supplies designer tunables keyed by ability.
type Overlay interface {
	Resolve(key string) (catalog.Entry, bool)
}

// ScriptRunner evaluates catalog-authored prerequisite scripts.
type ScriptRunner interface {
	Evaluate(key, source string, inv Invocation) (ok bool, reason string)
}

// Registry holds registered descriptors and resolves them with the catalog
// overlay applied.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	overlay     Overlay
	scripts     ScriptRunner
}

func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds d. Keys must be unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, d.Key)
	}
	r.descriptors[d.Key] = d
	return nil
}

// MustRegister panics when Register fails. Used for built-in content.
func (r *Registry) MustRegister(descriptors ...Descriptor) {
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// UseCatalog installs the designer overlay and the runner for its scripts.
func (r *Registry) UseCatalog(overlay Overlay, scripts ScriptRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = overlay
	r.scripts = scripts
}

// Keys lists registered keys in sorted order, disabled ones included.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.descriptors))
	for key := range r.descriptors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the descriptor for key with catalog tunables applied.
// Unknown keys and keys disabled by the catalog are not resolvable.
func (r *Registry) Resolve(key string) (Descriptor, bool) {
	return r.resolve(key, true)
}

func (r *Registry) resolve(key string, requireEnabled bool) (Descriptor, bool) {
	if r == nil || key == "" {
		return Descriptor{}, false
	}
	r.mu.RLock()
	d, ok := r.descriptors[key]
	overlay := r.overlay
	scripts := r.scripts
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, false
	}
	if overlay == nil {
		return d, true
	}
	entry, ok := overlay.Resolve(key)
	if !ok {
		return d, true
	}
	if requireEnabled && !entry.IsEnabled() {
		return Descriptor{}, false
	}
	return applyEntry(d, entry, scripts), true
}

func applyEntry(d Descriptor, entry catalog.Entry, scripts ScriptRunner) Descriptor {
	if entry.DisplayName != "" {
		d.DisplayName = entry.DisplayName
	}
	if entry.CooldownTicks != nil {
		d.CooldownTicks = *entry.CooldownTicks
	}
	if d.Toggle != nil && entry.Toggle != nil {
		spec := *d.Toggle
		if entry.Toggle.IntervalTicks > 0 {
			spec.IntervalTicks = entry.Toggle.IntervalTicks
		}
		if entry.Toggle.MaxDurationTicks > 0 {
			spec.MaxDurationTicks = entry.Toggle.MaxDurationTicks
		}
		d.Toggle = &spec
	}
	if entry.Prerequisite != "" && scripts != nil {
		base := d.Prerequisite
		source := entry.Prerequisite
		key := d.Key
		d.Prerequisite = func(inv Invocation) (bool, string) {
			if base != nil {
				if ok, reason := base(inv); !ok {
					return false, reason
				}
			}
			return scripts.Evaluate(key, source, inv)
		}
	}
	return d
}

// Revert asks the ability registered under key to undo the effect behind
// handle. It reports false when the ability is unknown, not Revertible, or
// did not recognise the handle.
func (r *Registry) Revert(key, handle string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	d, ok := r.descriptors[key]
	r.mu.RUnlock()
	if !ok || d.Revertible == nil {
		return false
	}
	return d.Revertible.RevertByHandle(handle)
}

// Toggles lists every toggle ability with catalog tunables applied. Disabled
// abilities are included so their managers exist if a reload enables them.
func (r *Registry) Toggles() []Descriptor {
	var out []Descriptor
	for _, key := range r.Keys() {
		d, ok := r.resolve(key, false)
		if ok && d.IsToggle() {
			out = append(out, d)
		}
	}
	return out
}
