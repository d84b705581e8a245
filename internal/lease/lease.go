// Package lease guarantees that no two ticks evaluate the same Area at once,
// within one process (LocalLocker) and across processes (RedisLocker).
package lease

import (
	"context"
	"errors"
)

// Lease is held while an Area is being processed.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-Area leases. TryAcquire never blocks waiting for a
// holder: ok is false when the Area is already leased elsewhere.
type Locker interface {
	TryAcquire(ctx context.Context, areaID string) (l Lease, ok bool, err error)
}

// Chain acquires a lease from every locker in order. If any locker refuses
// or fails, the leases already taken are released before returning.
func Chain(lockers ...Locker) Locker {
	filtered := make([]Locker, 0, len(lockers))
	for _, l := range lockers {
		if l != nil {
			filtered = append(filtered, l)
		}
	}
	return chain(filtered)
}

type chain []Locker

func (c chain) TryAcquire(ctx context.Context, areaID string) (Lease, bool, error) {
	held := make(multiLease, 0, len(c))
	for _, l := range c {
		ls, ok, err := l.TryAcquire(ctx, areaID)
		if err != nil || !ok {
			_ = held.Release(context.WithoutCancel(ctx))
			return nil, false, err
		}
		held = append(held, ls)
	}
	return held, true, nil
}

type multiLease []Lease

// Release releases in reverse acquisition order and joins the errors.
func (m multiLease) Release(ctx context.Context) error {
	var errs []error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
