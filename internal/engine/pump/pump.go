// Package pump trickles backlogged decode work into the dispatcher at a
// controlled rate, so a large scan does not flood the queue ahead of
// interactive requests.
package pump

import (
	"sync"
	"time"

	"github.com/lumenview/lumen/internal/core/domain"
)

// SubmitFunc hands a backlogged key to the dispatcher.
type SubmitFunc func(domain.CacheKey)

// Pump drains its backlog in fixed-size batches, one batch per tick.
// Keys are deduplicated while queued and released in enqueue order.
type Pump struct {
	tick   time.Duration
	batch  int
	submit SubmitFunc

	mu         sync.Mutex
	backlog    []domain.CacheKey
	queued     map[domain.CacheKey]struct{}
	delivering int

	done     chan struct{}
	stopped  sync.WaitGroup
	stopOnce sync.Once
}

// New starts a pump delivering at most batch keys every tick.
func New(tick time.Duration, batch int, submit SubmitFunc) *Pump {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if batch <= 0 {
		batch = 1
	}
	p := &Pump{
		tick:   tick,
		batch:  batch,
		submit: submit,
		queued: make(map[domain.CacheKey]struct{}),
		done:   make(chan struct{}),
	}
	p.stopped.Add(1)
	go p.run()
	return p
}

// Enqueue adds a key to the backlog. Re-enqueueing a key already waiting
// is a no-op.
func (p *Pump) Enqueue(key domain.CacheKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[key]; ok {
		return
	}
	p.queued[key] = struct{}{}
	p.backlog = append(p.backlog, key)
}

// DropPath discards backlogged work for a path across all modes and sizes.
func (p *Pump) DropPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.backlog[:0]
	for _, key := range p.backlog {
		if key.Path == path {
			delete(p.queued, key)
			continue
		}
		kept = append(kept, key)
	}
	p.backlog = kept
}

// Backlog reports the number of keys waiting or mid-handoff. It only
// reads zero once every taken key has reached the submit callback.
func (p *Pump) Backlog() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog) + p.delivering
}

// Stop halts the pump. Backlogged keys are discarded.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.stopped.Wait()
	})
}

func (p *Pump) run() {
	defer p.stopped.Done()
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			for _, key := range p.take() {
				p.submit(key)
				p.mu.Lock()
				p.delivering--
				p.mu.Unlock()
			}
		}
	}
}

func (p *Pump) take() []domain.CacheKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := min(p.batch, len(p.backlog))
	if n == 0 {
		return nil
	}
	out := make([]domain.CacheKey, n)
	copy(out, p.backlog[:n])
	p.delivering += n
	p.backlog = append(p.backlog[:0], p.backlog[n:]...)
	for _, key := range out {
		delete(p.queued, key)
	}
	return out
}
