package broker

import (
	"context"
	"sync"
)

// Ack completes when the broker acknowledges (or rejects) an operation.
// It may be waited on any number of times.
type Ack struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

// completedAck returns an Ack that is already resolved with err.
func completedAck(err error) *Ack {
	a := newAck()
	a.complete(err)
	return a
}

// complete resolves the ack. Only the first call has any effect.
func (a *Ack) complete(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Done returns a channel that is closed once the operation is resolved.
func (a *Ack) Done() <-chan struct{} {
	return a.done
}

// Err returns the outcome. It is nil until Done is closed.
func (a *Ack) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the operation is resolved or ctx ends.
func (a *Ack) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
