// Package catalog loads designer-authored ability tunables from YAML and
// exposes them as overlays keyed by ability.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// ToggleDocument overrides toggle timing.
type ToggleDocument struct {
	IntervalTicks    int64 `yaml:"intervalTicks,omitempty" json:"intervalTicks,omitempty" jsonschema:"title=Interval ticks,description=Ticks between periodic re-evaluations.,minimum=0"`
	MaxDurationTicks int64 `yaml:"maxDurationTicks,omitempty" json:"maxDurationTicks,omitempty" jsonschema:"title=Max duration ticks,description=Ticks after which the toggle ends on its own. Zero keeps the built-in limit.,minimum=0"`
}

// EntryDocument is a single catalog entry as it appears on disk. It is
// exported so the schema generator can reflect over it.
type EntryDocument struct {
	Key           string          `yaml:"key" json:"key" jsonschema:"title=Ability key,description=Registered ability key this entry tunes.,pattern=^[a-z0-9-]+$,minLength=1,required"`
	DisplayName   string          `yaml:"displayName,omitempty" json:"displayName,omitempty" jsonschema:"title=Display name"`
	CooldownTicks *int64          `yaml:"cooldownTicks,omitempty" json:"cooldownTicks,omitempty" jsonschema:"title=Cooldown ticks,description=Ticks before the ability can be cast again.,minimum=0"`
	Enabled       *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Disabled abilities cannot be resolved or cast.,default=true"`
	Toggle        *ToggleDocument `yaml:"toggle,omitempty" json:"toggle,omitempty" jsonschema:"title=Toggle timing"`
	Prerequisite  string          `yaml:"prerequisite,omitempty" json:"prerequisite,omitempty" jsonschema:"title=Prerequisite script,description=Lua chunk returning ok and an optional reason. The caster table exposes id and tick plus host attributes."`
}

// Entry is the resolved overlay for one ability.
type Entry struct {
	Key           string
	DisplayName   string
	CooldownTicks *int64
	Enabled       *bool
	Toggle        *ToggleDocument
	Prerequisite  string
	Source        string
}

// IsEnabled treats a missing flag as enabled.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e Entry) clone() Entry {
	clone := e
	if e.CooldownTicks != nil {
		v := *e.CooldownTicks
		clone.CooldownTicks = &v
	}
	if e.Enabled != nil {
		v := *e.Enabled
		clone.Enabled = &v
	}
	if e.Toggle != nil {
		v := *e.Toggle
		clone.Toggle = &v
	}
	return clone
}

// Resolver merges one or more catalog sources into a stable lookup table.
// Call Reload to pick up on-disk changes.
type Resolver struct {
	mu      sync.RWMutex
	sources []source
	known   map[string]struct{}
	entries map[string]Entry
}

// DefaultPaths returns the canonical catalog locations relative to the
// working directory.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "abilities.yaml"),
		filepath.Join("..", "config", "abilities.yaml"),
	}
}

// Load constructs a Resolver over catalog files. known lists the ability
// keys entries may reference.
func Load(known []string, paths ...string) (*Resolver, error) {
	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		sources = append(sources, fileSource{path: trimmed})
	}
	return NewResolver(known, sources...)
}

// NewResolver constructs a Resolver from arbitrary sources. Tests supply
// in-memory sources while production code uses fileSource.
func NewResolver(known []string, sources ...source) (*Resolver, error) {
	index := make(map[string]struct{}, len(known))
	for _, key := range known {
		index[key] = struct{}{}
	}
	r := &Resolver{
		sources: append([]source(nil), sources...),
		known:   index,
		entries: make(map[string]Entry),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all sources. Later sources override earlier ones so a
// local overlay can sit on top of the shipped catalog. Missing files are
// skipped. On error the previous entries stay in place.
func (r *Resolver) Reload() error {
	if r == nil {
		return nil
	}
	entries := make(map[string]Entry)
	for _, src := range r.sources {
		data, err := src.Load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("catalog: failed loading %s: %w", src.Path(), err)
		}
		documents, err := decodeEntries(data)
		if err != nil {
			return fmt.Errorf("catalog: failed parsing %s: %w", src.Path(), err)
		}
		seen := make(map[string]struct{}, len(documents))
		for _, doc := range documents {
			key := strings.TrimSpace(doc.Key)
			if key == "" {
				return fmt.Errorf("catalog: entry missing key in %s", src.Path())
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("catalog: duplicate key %q in %s", key, src.Path())
			}
			seen[key] = struct{}{}
			if _, ok := r.known[key]; !ok {
				return fmt.Errorf("catalog: entry %q in %s references an unknown ability", key, src.Path())
			}
			if doc.CooldownTicks != nil && *doc.CooldownTicks < 0 {
				return fmt.Errorf("catalog: entry %q sets negative cooldownTicks %d", key, *doc.CooldownTicks)
			}
			if doc.Toggle != nil && (doc.Toggle.IntervalTicks < 0 || doc.Toggle.MaxDurationTicks < 0) {
				return fmt.Errorf("catalog: entry %q sets negative toggle timing", key)
			}

			entry := Entry{
				Key:           key,
				DisplayName:   strings.TrimSpace(doc.DisplayName),
				CooldownTicks: doc.CooldownTicks,
				Enabled:       doc.Enabled,
				Toggle:        doc.Toggle,
				Prerequisite:  strings.TrimSpace(doc.Prerequisite),
				Source:        src.Path(),
			}
			entries[key] = entry.clone()
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// Resolve returns the overlay for key.
func (r *Resolver) Resolve(key string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Entries returns a cloned snapshot keyed by ability.
func (r *Resolver) Entries() map[string]Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for key, entry := range r.entries {
		out[key] = entry.clone()
	}
	return out
}

// decodeEntries accepts either a sequence of entries or a mapping keyed by
// ability key.
func decodeEntries(data []byte) ([]EntryDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(trimmed, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, nil
	}
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var entries []EntryDocument
		if err := node.Decode(&entries); err != nil {
			return nil, err
		}
		return entries, nil
	case yaml.MappingNode:
		var object map[string]EntryDocument
		if err := node.Decode(&object); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(object))
		for key := range object {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entries := make([]EntryDocument, 0, len(keys))
		for _, key := range keys {
			entry := object[key]
			if entry.Key == "" {
				entry.Key = key
			} else if entry.Key != key {
				return nil, fmt.Errorf("entry key %q does not match map key %q", entry.Key, key)
			}
			entries = append(entries, entry)
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("unexpected yaml node at line %d", node.Line)
	}
}
