// Package operator implements the single serializing gateway for all
// persistent-store writes. However many producers schedule work, exactly
// one write transaction runs at a time.
package operator

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lumenview/lumen/internal/adapters/storage/sqlite"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports"
	"go.trai.ch/zerr"
)

// WriteOp is a unit of work performing one or more mutations. It runs
// inside a single transaction on a connection scoped to this unit of work.
type WriteOp func(ctx context.Context, q sqlite.Querier) error

// ReadOp is a unit of read work served through the operator, serialized
// alongside writes.
type ReadOp func(ctx context.Context, q sqlite.Querier) (any, error)

type jobItem struct {
	ctx   context.Context
	write WriteOp
	read  ReadOp
	fut   *Future
}

// Operator owns the write side of one store. Writes are retried with
// exponential backoff on transient lock contention up to a bounded attempt
// count; exhaustion fails that single write with domain.ErrStoreBusy.
type Operator struct {
	db        *sql.DB
	log       ports.Logger
	retryMax  int
	retryBase time.Duration
	isBusy    func(error) bool

	jobs      chan *jobItem
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts an operator over the store's writer handle.
func New(db *sql.DB, log ports.Logger, retryMax int, retryBase time.Duration) *Operator {
	o := &Operator{
		db:        db,
		log:       log,
		retryMax:  retryMax,
		retryBase: retryBase,
		isBusy:    sqlite.IsBusy,
		jobs:      make(chan *jobItem, 128),
		done:      make(chan struct{}),
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// ScheduleWrite enqueues a transactional unit of work and returns
// immediately with a future.
func (o *Operator) ScheduleWrite(ctx context.Context, fn WriteOp) *Future {
	return o.schedule(&jobItem{ctx: ctx, write: fn, fut: newFuture()})
}

// ScheduleRead enqueues a read served on the operator's own execution
// context. Callers wanting snapshot reads that bypass the write queue use
// the store's independent read handle instead; the choice is made
// explicitly per call site.
func (o *Operator) ScheduleRead(ctx context.Context, fn ReadOp) *Future {
	return o.schedule(&jobItem{ctx: ctx, read: fn, fut: newFuture()})
}

// schedule admits j under the read lock so no job can slip into the queue
// once Close has marked the operator closed; every admitted job's future
// is guaranteed to resolve before run returns.
func (o *Operator) schedule(j *jobItem) *Future {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return failedFuture(domain.ErrStoreClosed)
	}

	select {
	case o.jobs <- j:
		return j.fut
	case <-j.ctx.Done():
		return failedFuture(j.ctx.Err())
	}
}

// Close stops the operator after flushing already-queued work.
func (o *Operator) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		close(o.done)
	})
	o.wg.Wait()
	return nil
}

func (o *Operator) run() {
	defer o.wg.Done()

	for {
		select {
		case j := <-o.jobs:
			o.execute(j)
		case <-o.done:
			// Flush writes accepted before close so decode results
			// arriving at shutdown still land.
			for {
				select {
				case j := <-o.jobs:
					o.execute(j)
				default:
					return
				}
			}
		}
	}
}

func (o *Operator) execute(j *jobItem) {
	if j.read != nil {
		value, err := o.runRead(j.ctx, j.read)
		j.fut.resolve(value, err)
		return
	}
	j.fut.resolve(nil, o.writeWithRetry(j.ctx, j.write))
}

func (o *Operator) writeWithRetry(ctx context.Context, fn WriteOp) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.retryBase

	attempt := func() (struct{}, error) {
		err := o.runWrite(ctx, fn)
		switch {
		case err == nil:
			return struct{}{}, nil
		case o.isBusy(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(o.retryMax))) //nolint:gosec // retryMax is a small positive config value
	if err != nil && o.isBusy(err) {
		o.log.Warn("store write exhausted retry budget", "attempts", o.retryMax)
		return zerr.Wrap(domain.ErrStoreBusy, err.Error())
	}
	return err
}

// runWrite checks out a connection for exactly this unit of work and runs
// fn inside a transaction on it. Connections are never held across units,
// which keeps file-lock lifetimes short and handles fresh.
func (o *Operator) runWrite(ctx context.Context, fn WriteOp) error {
	conn, err := o.db.Conn(ctx)
	if err != nil {
		return zerr.Wrap(err, "failed to check out store connection")
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (o *Operator) runRead(ctx context.Context, fn ReadOp) (any, error) {
	conn, err := o.db.Conn(ctx)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to check out store connection")
	}
	defer func() { _ = conn.Close() }()
	return fn(ctx, conn)
}
