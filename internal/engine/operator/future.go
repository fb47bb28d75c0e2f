package operator

import "context"

// Future is the handle returned to producers scheduling store work. It
// resolves exactly once; UI-adjacent callers never block on the store
// beyond waiting on this handle.
type Future struct {
	done  chan struct{}
	err   error
	value any
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns an already-resolved future carrying err. Callers that
// fail before a job can be scheduled use it to keep one result shape.
func Failed(err error) *Future {
	return failedFuture(err)
}

func failedFuture(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

func (f *Future) resolve(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the unit of work has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err blocks until completion and returns the outcome.
func (f *Future) Err() error {
	<-f.done
	return f.err
}

// Value blocks until completion and returns the read result.
func (f *Future) Value() (any, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until completion or ctx expiry.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
