// Package loader implements the work dispatcher: it admits decode
// requests, deduplicates them per (path, mode) identity with
// last-submitted-wins semantics, and executes them on a bounded decode
// pool behind a lightweight scheduling stage.
package loader

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports"
	"golang.org/x/sync/semaphore"
)

// Status is the terminal state of a ticket. Exactly one status is ever
// delivered per ticket.
type Status int

const (
	// StatusResult carries a successful decode.
	StatusResult Status = iota
	// StatusError carries a typed decode failure.
	StatusError
	// StatusSuperseded means a newer request for the same (path, mode)
	// identity was admitted; this ticket's eventual result is discarded.
	StatusSuperseded
)

// Outcome is the single terminal notification for a ticket.
type Outcome struct {
	Key        domain.CacheKey
	Generation domain.Generation
	Status     Status
	Decoded    *domain.Decoded
	Err        error
}

// Ticket is the handle returned by Submit. Its outcome channel receives
// exactly one value.
type Ticket struct {
	key  domain.CacheKey
	gen  domain.Generation
	out  chan Outcome
	once sync.Once
}

// Key returns the cache key the ticket was admitted for.
func (t *Ticket) Key() domain.CacheKey { return t.key }

// Generation returns the generation assigned at admission.
func (t *Ticket) Generation() domain.Generation { return t.gen }

// Outcome returns the channel the terminal outcome is delivered on.
func (t *Ticket) Outcome() <-chan Outcome { return t.out }

// Resolved builds an already-delivered ticket for cache hits, so callers
// see one shape regardless of where the answer came from.
func Resolved(key domain.CacheKey, decoded *domain.Decoded) *Ticket {
	t := &Ticket{key: key, out: make(chan Outcome, 1)}
	t.once.Do(func() {
		t.out <- Outcome{Key: key, Status: StatusResult, Decoded: decoded}
	})
	return t
}

// Failed builds an already-delivered error ticket.
func Failed(key domain.CacheKey, err error) *Ticket {
	t := &Ticket{key: key, out: make(chan Outcome, 1)}
	t.once.Do(func() {
		t.out <- Outcome{Key: key, Status: StatusError, Err: err}
	})
	return t
}

// Config bounds the dispatcher's two pools.
type Config struct {
	SchedulerSlots int
	DecodeSlots    int
	QueueSize      int
}

// Loader is the work dispatcher. All bookkeeping state is owned by the
// loader and mutated only under its admission lock; cross-goroutine
// handoff happens via channels and the per-ticket outcome channel.
type Loader struct {
	decoder ports.Decoder
	log     ports.Logger
	sink    func(Outcome)

	sem   *semaphore.Weighted
	queue chan *Ticket

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	current map[domain.Identity]*Ticket
	gens    map[domain.Identity]domain.Generation

	outstanding atomic.Int64
}

// Option configures a Loader.
type Option func(*Loader)

// WithSink registers a callback invoked for every authoritative successful
// outcome, after it has been delivered to the subscriber. Superseded and
// failed work never reaches the sink.
func WithSink(fn func(Outcome)) Option {
	return func(l *Loader) { l.sink = fn }
}

// New starts a dispatcher executing decodes through dec.
func New(dec ports.Decoder, log ports.Logger, cfg Config, opts ...Option) *Loader {
	if cfg.SchedulerSlots <= 0 {
		cfg.SchedulerSlots = 1
	}
	if cfg.DecodeSlots <= 0 {
		cfg.DecodeSlots = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		decoder: dec,
		log:     log,
		sem:     semaphore.NewWeighted(int64(cfg.DecodeSlots)),
		queue:   make(chan *Ticket, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		current: make(map[domain.Identity]*Ticket),
		gens:    make(map[domain.Identity]domain.Generation),
	}
	for _, opt := range opts {
		opt(l)
	}

	for i := 0; i < cfg.SchedulerSlots; i++ {
		l.wg.Add(1)
		go l.schedule()
	}
	return l
}

// Submit admits a request, assigns it the next generation for its
// (path, mode) identity and supersedes any prior pending request for that
// identity. It never blocks: a saturated admission queue fails the ticket
// with a typed error.
func (l *Loader) Submit(key domain.CacheKey) *Ticket {
	l.mu.Lock()
	id := key.Identity()
	l.gens[id]++
	t := &Ticket{key: key, gen: l.gens[id], out: make(chan Outcome, 1)}
	l.outstanding.Add(1)

	if prev := l.current[id]; prev != nil {
		l.deliver(prev, Outcome{
			Key:        prev.key,
			Generation: prev.gen,
			Status:     StatusSuperseded,
		})
	}
	l.current[id] = t
	l.mu.Unlock()

	select {
	case l.queue <- t:
	default:
		l.log.Warn("admission queue saturated, rejecting request", "path", t.key.Path)
		l.retire(t)
		l.deliver(t, Outcome{
			Key:        t.key,
			Generation: t.gen,
			Status:     StatusError,
			Err:        domain.ErrQueueSaturated,
		})
	}
	return t
}

// Cancel marks a ticket stale. In-flight execution is not interrupted; the
// eventual result is discarded at the delivery boundary.
func (l *Loader) Cancel(t *Ticket) {
	if t == nil {
		return
	}
	l.retire(t)
	l.deliver(t, Outcome{Key: t.key, Generation: t.gen, Status: StatusSuperseded})
}

// CancelAllFor marks every pending request for a path stale, across both
// modes.
func (l *Loader) CancelAllFor(path string) {
	l.mu.Lock()
	var stale []*Ticket
	for _, mode := range []domain.Mode{domain.ModeThumbnail, domain.ModeFull} {
		id := domain.Identity{Path: path, Mode: mode}
		if t := l.current[id]; t != nil {
			delete(l.current, id)
			stale = append(stale, t)
		}
	}
	l.mu.Unlock()

	for _, t := range stale {
		l.deliver(t, Outcome{Key: t.key, Generation: t.gen, Status: StatusSuperseded})
	}
}

// Outstanding reports tickets admitted but not yet delivered.
func (l *Loader) Outstanding() int64 { return l.outstanding.Load() }

// Close stops the dispatcher. Queued-but-unstarted tickets fail with
// domain.ErrEngineClosed; running decodes finish and are discarded.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.wg.Wait()

		for {
			select {
			case t := <-l.queue:
				l.retire(t)
				l.deliver(t, Outcome{
					Key:        t.key,
					Generation: t.gen,
					Status:     StatusError,
					Err:        domain.ErrEngineClosed,
				})
			default:
				return
			}
		}
	})
	return nil
}

// schedule is a scheduling worker: it drains the admission queue, drops
// tickets superseded while queued, and runs the survivors through the
// decode gate. The bounded queue gives Submit its backpressure signal.
func (l *Loader) schedule() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case t := <-l.queue:
			if !l.isCurrent(t) {
				// Superseded while queued; its outcome was already
				// delivered at admission of the newer request.
				continue
			}
			l.execute(t)
		}
	}
}

func (l *Loader) execute(t *Ticket) {
	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		l.retire(t)
		l.deliver(t, Outcome{Key: t.key, Generation: t.gen, Status: StatusError, Err: domain.ErrEngineClosed})
		return
	}
	decoded, err := l.decoder.Decode(l.ctx, t.key.Path, t.key.TargetW, t.key.TargetH)
	l.sem.Release(1)

	if !l.retire(t) {
		// A newer generation took over while we were decoding: the result
		// arrived late and is dropped, never delivered or persisted.
		return
	}

	if err != nil {
		l.deliver(t, Outcome{Key: t.key, Generation: t.gen, Status: StatusError, Err: err})
		return
	}

	o := Outcome{Key: t.key, Generation: t.gen, Status: StatusResult, Decoded: decoded}
	if l.deliver(t, o) && l.sink != nil {
		l.sink(o)
	}
}

// retire removes t from the current table. It reports false when t is no
// longer the current ticket for its identity.
func (l *Loader) retire(t *Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := t.key.Identity()
	if l.current[id] != t {
		return false
	}
	delete(l.current, id)
	return true
}

func (l *Loader) isCurrent(t *Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current[t.key.Identity()] == t
}

// deliver finalizes a ticket at most once and reports whether this call
// was the one that delivered.
func (l *Loader) deliver(t *Ticket, o Outcome) bool {
	won := false
	t.once.Do(func() {
		t.out <- o
		l.outstanding.Add(-1)
		won = true
	})
	return won
}
