package lifecycle

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Presence tracks which actors are currently valid casters. Toggle managers
// consult it on every tick.
type Presence struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]struct{}
}

func NewPresence() *Presence {
	return &Presence{actors: make(map[uuid.UUID]struct{})}
}

// Join marks actor present and reports whether it was absent before.
func (p *Presence) Join(actor uuid.UUID) bool {
	if p == nil || actor == uuid.Nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.actors[actor]; ok {
		return false
	}
	p.actors[actor] = struct{}{}
	return true
}

// Leave marks actor absent and reports whether it was present.
func (p *Presence) Leave(actor uuid.UUID) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.actors[actor]; !ok {
		return false
	}
	delete(p.actors, actor)
	return true
}

func (p *Presence) IsPresent(actor uuid.UUID) bool {
	if p == nil || actor == uuid.Nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.actors[actor]
	return ok
}

func (p *Presence) Len() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.actors)
}

// Actors lists present actors in a stable order.
func (p *Presence) Actors() []uuid.UUID {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	out := make([]uuid.UUID, 0, len(p.actors))
	for actor := range p.actors {
		out = append(out, actor)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
