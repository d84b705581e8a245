package lease

import (
	"context"
	"sync"
)

// LocalLocker is an in-process in-flight set keyed by Area ID.
type LocalLocker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{inflight: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, areaID string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inflight[areaID]; busy {
		return nil, false, nil
	}
	l.inflight[areaID] = struct{}{}
	return &localLease{locker: l, areaID: areaID}, true, nil
}

// Held reports whether areaID is currently leased.
func (l *LocalLocker) Held(areaID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[areaID]
	return ok
}

type localLease struct {
	locker *LocalLocker
	areaID string
	once   sync.Once
}

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		ll.locker.mu.Lock()
		delete(ll.locker.inflight, ll.areaID)
		ll.locker.mu.Unlock()
	})
	return nil
}

var _ Locker = (*LocalLocker)(nil)
