// Package lock provides the serialization guard held around every mutating
// issuance operation. Local covers a single process; Redis extends the guard
// across replicas sharing one catalog.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out an exclusive hold on key. The returned release func must
// be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local serializes callers within one process. Keys share one slot, so every
// mutation is ordered against every other.
type Local struct {
	sem chan struct{}
}

// NewLocal returns a ready Local locker.
func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) Acquire(ctx context.Context, _ string) (func(), error) {
	select {
	case l.sem <- struct{}{}:
		released := false
		return func() {
			if released {
				return
			}
			released = true
			<-l.sem
		}, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}
