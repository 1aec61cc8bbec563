package mutexo

import (
	"math/rand/v2"
	"sync"
)

// IDPool выдаёт идентификаторы запросов, уникальные среди ещё не завершённых.
// Кандидат выбирается случайно и отбрасывается, пока он занят.
type IDPool struct {
	mu       sync.Mutex
	inFlight map[uint32]struct{}
	rng      *rand.Rand
}

func NewIDPool() *IDPool {
	return newIDPool(nil)
}

func newIDPool(src rand.Source) *IDPool {
	p := &IDPool{
		inFlight: make(map[uint32]struct{}),
	}

	if src != nil {
		p.rng = rand.New(src)
	}

	return p
}

func (p *IDPool) Allocate() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		id := p.sample()
		if _, busy := p.inFlight[id]; busy {
			continue
		}

		p.inFlight[id] = struct{}{}

		return id
	}
}

func (p *IDPool) Release(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inFlight, id)
}

func (p *IDPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.inFlight)
}

func (p *IDPool) sample() uint32 {
	if p.rng != nil {
		return p.rng.Uint32()
	}

	return rand.Uint32()
}
