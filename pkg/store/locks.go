package store

import "sync"

// lockPool hands out one mutex per tenant so appends and read-marks on
// the same thread serialize without global contention.
type lockPool struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (p *lockPool) get(tenantID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*sync.Mutex)
	}
	if l, ok := p.m[tenantID]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.m[tenantID] = l
	return l
}
