package scheduler

import (
	"errors"
	"sync"
)

// ErrTierBusy is returned when a run is requested for a tier that is not idle.
var ErrTierBusy = errors.New("tier run already in progress")

// TierState is the phase of a tier's current run.
type TierState int

const (
	StateIdle TierState = iota
	StateFetching
	StateProcessing
	StatePersisting
)

func (s TierState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StatePersisting:
		return "persisting"
	}
	return "unknown"
}

// states guards Idle -> Fetching -> Processing -> Persisting -> Idle per tier.
type states struct {
	mu sync.Mutex
	m  map[string]TierState
}

func newStates() *states {
	return &states{m: make(map[string]TierState)}
}

// begin moves tier from Idle to Fetching, failing if a run is in flight.
func (s *states) begin(tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[tier] != StateIdle {
		return ErrTierBusy
	}
	s.m[tier] = StateFetching
	return nil
}

func (s *states) set(tier string, st TierState) {
	s.mu.Lock()
	s.m[tier] = st
	s.mu.Unlock()
}

func (s *states) get(tier string) TierState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[tier]
}
