package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"athsync/internal/model"
	"athsync/internal/storage"
)

// MemoryCallStore is an in-process storage.CallStore used by tests and
// dry runs.
type MemoryCallStore struct {
	mu    sync.Mutex
	calls map[int64]*model.Call

	// patches counts successful Patch/PatchMany writes per call id.
	patches map[int64]int

	// patchErr, when set, fails every Patch; PatchMany keeps working so
	// claim release can be observed.
	patchErr error
}

var _ storage.CallStore = (*MemoryCallStore)(nil)

func NewCallStore(calls ...model.Call) *MemoryCallStore {
	s := &MemoryCallStore{
		calls:   make(map[int64]*model.Call, len(calls)),
		patches: make(map[int64]int),
	}
	for _, c := range calls {
		s.Add(c)
	}
	return s
}

// Add inserts or replaces a call.
func (s *MemoryCallStore) Add(c model.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.calls[c.ID] = &cp
}

func (s *MemoryCallStore) SelectForTier(_ context.Context, q storage.TierQuery) ([]model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Call
	for _, c := range s.calls {
		if storage.MatchesTier(c, q) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return storage.OlderFirst(out[i].LastCheckedAt, out[j].LastCheckedAt, out[i].ID, out[j].ID)
	})
	return limit(out, q.Limit), nil
}

func (s *MemoryCallStore) SelectForVerify(_ context.Context, q storage.VerifyQuery) ([]model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Call
	for _, c := range s.calls {
		if storage.MatchesVerify(c, q) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return storage.OlderFirst(out[i].AthVerifiedAt, out[j].AthVerifiedAt, out[i].ID, out[j].ID)
	})
	return limit(out, q.Limit), nil
}

func (s *MemoryCallStore) Get(_ context.Context, id int64) (*model.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryCallStore) Claim(_ context.Context, id int64, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !storage.LeaseFree(c, now) {
		return false, nil
	}
	u := until.UTC()
	c.ClaimedUntil = &u
	return true, nil
}

func (s *MemoryCallStore) Patch(_ context.Context, id int64, p model.CallPatch) error {
	if p.IsEmpty() {
		return storage.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patchErr != nil {
		return s.patchErr
	}
	c, ok := s.calls[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Apply(c)
	s.patches[id]++
	return nil
}

func (s *MemoryCallStore) PatchMany(_ context.Context, ids []int64, p model.CallPatch) error {
	if p.IsEmpty() {
		return storage.ErrEmptyPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if c, ok := s.calls[id]; ok {
			p.Apply(c)
			s.patches[id]++
		}
	}
	return nil
}

func (s *MemoryCallStore) Count(_ context.Context, q storage.TierQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// leases do not affect the population count
	n := 0
	for _, c := range s.calls {
		snap := *c
		snap.ClaimedUntil = nil
		if storage.MatchesTier(&snap, q) {
			n++
		}
	}
	return n, nil
}

// FailPatches makes subsequent Patch calls return err. Nil restores normal writes.
func (s *MemoryCallStore) FailPatches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchErr = err
}

// PatchCount returns how many patches were applied to id.
func (s *MemoryCallStore) PatchCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patches[id]
}

// GetAll returns a snapshot of every call ordered by id.
func (s *MemoryCallStore) GetAll() []model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func limit(calls []model.Call, n int) []model.Call {
	if n > 0 && len(calls) > n {
		return calls[:n]
	}
	return calls
}
