package supervisor

import "context"

// CallQuota bounds the number of concurrent calls in flight to one
// plugin and serves waiters in FIFO order, adapted from the teacher's
// provider-side MaxConcurrentCalls worker pool (plugin/provider) to the
// supervisor's "push calls to a plugin" direction instead of "pull work
// from a stream".
type CallQuota struct {
	tickets chan struct{}
}

// NewCallQuota builds a CallQuota admitting at most max concurrent calls.
func NewCallQuota(max int) *CallQuota {
	if max <= 0 {
		max = 1
	}
	q := &CallQuota{tickets: make(chan struct{}, max)}
	for i := 0; i < max; i++ {
		q.tickets <- struct{}{}
	}
	return q
}

// Acquire blocks until a call slot is available or ctx is done. Callers
// queue in the order they call Acquire because Go channels release
// blocked receivers in FIFO order.
func (q *CallQuota) Acquire(ctx context.Context) error {
	select {
	case <-q.tickets:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a call slot to the pool.
func (q *CallQuota) Release() {
	select {
	case q.tickets <- struct{}{}:
	default:
	}
}

// Do runs fn after acquiring a slot, always releasing it afterward.
func (q *CallQuota) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := q.Acquire(ctx); err != nil {
		return err
	}
	defer q.Release()
	return fn(ctx)
}
