package content

import (
	"sync"

	"github.com/google/uuid"
)

// Pool names.
const (
	Mana = "mana"
)

// Pools holds per-actor resource levels the sample abilities spend.
type Pools struct {
	mu     sync.RWMutex
	max    float64
	levels map[uuid.UUID]map[string]float64
}

// NewPools returns pools where unseen actors start full at max.
func NewPools(max float64) *Pools {
	if max <= 0 {
		max = 100
	}
	return &Pools{max: max, levels: make(map[uuid.UUID]map[string]float64)}
}

func (p *Pools) Level(actor uuid.UUID, pool string) float64 {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if byPool, ok := p.levels[actor]; ok {
		if level, ok := byPool[pool]; ok {
			return level
		}
	}
	return p.max
}

// Set clamps level to [0, max].
func (p *Pools) Set(actor uuid.UUID, pool string, level float64) {
	if p == nil {
		return
	}
	if level < 0 {
		level = 0
	}
	if level > p.max {
		level = p.max
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byPool, ok := p.levels[actor]
	if !ok {
		byPool = make(map[string]float64)
		p.levels[actor] = byPool
	}
	byPool[pool] = level
}

// Spend deducts amount if the actor can afford it.
func (p *Pools) Spend(actor uuid.UUID, pool string, amount float64) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byPool, ok := p.levels[actor]
	if !ok {
		byPool = make(map[string]float64)
		p.levels[actor] = byPool
	}
	level, ok := byPool[pool]
	if !ok {
		level = p.max
	}
	if level < amount {
		return false
	}
	byPool[pool] = level - amount
	return true
}

// Forget drops every pool for actor.
func (p *Pools) Forget(actor uuid.UUID) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.levels, actor)
	p.mu.Unlock()
}
