package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"athsync/internal/model"
)

// Leases tracks the calls a run has claimed so that an aborted run can hand
// them back in one bulk update.
type Leases struct {
	store CallStore
	ttl   time.Duration

	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLeases(store CallStore, ttl time.Duration) *Leases {
	return &Leases{store: store, ttl: ttl, held: make(map[int64]struct{})}
}

// Claim tries to take the lease on id. A false result with a nil error
// means another worker holds it.
func (l *Leases) Claim(ctx context.Context, id int64, now time.Time) (bool, error) {
	ok, err := l.store.Claim(ctx, id, now, now.Add(l.ttl))
	if err != nil {
		return false, fmt.Errorf("claim call %d: %w", id, err)
	}
	if ok {
		l.mu.Lock()
		l.held[id] = struct{}{}
		l.mu.Unlock()
	}
	return ok, nil
}

// Done forgets id once a patch releasing its lease has been written.
func (l *Leases) Done(id int64) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}

// Held returns the ids still claimed, sorted.
func (l *Leases) Held() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.held))
	for id := range l.held {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReleaseAll clears claimed_until on every held call.
func (l *Leases) ReleaseAll(ctx context.Context) (int, error) {
	ids := l.Held()
	if len(ids) == 0 {
		return 0, nil
	}
	if err := l.store.PatchMany(ctx, ids, model.CallPatch{ReleaseClaim: true}); err != nil {
		return 0, fmt.Errorf("release %d claims: %w", len(ids), err)
	}
	l.mu.Lock()
	for _, id := range ids {
		delete(l.held, id)
	}
	l.mu.Unlock()
	return len(ids), nil
}
