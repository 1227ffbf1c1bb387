package scheduler

import (
	"sync"
	"time"

	"athsync/internal/model"
	"athsync/internal/reconcile"
)

// Summary is the JSON report printed at the end of a run.
type Summary struct {
	RunID         string         `json:"run_id"`
	Tier          string         `json:"tier"`
	Selected      int            `json:"selected"`
	Claimed       int            `json:"claimed"`
	Skipped       int            `json:"skipped"`
	Processed     int            `json:"processed"`
	Updated       int            `json:"updated"`
	Failed        int            `json:"failed"`
	Dead          int            `json:"dead"`
	Revived       int            `json:"revived"`
	NoData        int            `json:"no_data"`
	NewAths       int            `json:"new_aths"`
	Discrepancies int            `json:"discrepancies"`
	ErrorsByKind  map[string]int `json:"errors_by_kind"`
	Backlog       int            `json:"backlog"`
	Released      int            `json:"released,omitempty"`
	Aborted       bool           `json:"aborted"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      string         `json:"duration"`

	mu sync.Mutex
}

func newSummary(runID, tier string, started time.Time) *Summary {
	return &Summary{
		RunID:        runID,
		Tier:         tier,
		ErrorsByKind: make(map[string]int),
		StartedAt:    started,
	}
}

func (s *Summary) incSelected() {
	s.mu.Lock()
	s.Selected++
	s.mu.Unlock()
}

func (s *Summary) incSkipped() {
	s.mu.Lock()
	s.Skipped++
	s.mu.Unlock()
}

func (s *Summary) incClaimed() {
	s.mu.Lock()
	s.Claimed++
	s.mu.Unlock()
}

func (s *Summary) record(res reconcile.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed++
	switch res.Outcome {
	case reconcile.OutcomeUpdated:
		s.Updated++
	case reconcile.OutcomeDead:
		s.Dead++
	case reconcile.OutcomeNoData:
		s.NoData++
	default:
		s.Failed++
	}
	if res.Revived {
		s.Revived++
	}
	if res.NewAth {
		s.NewAths++
	}
	if res.PriceDiscrepancy {
		s.Discrepancies++
	}
	if res.Err != nil {
		s.ErrorsByKind[model.ErrorKind(res.Err)]++
	}
}

func (s *Summary) finish(took time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Duration = took.Round(time.Millisecond).String()
	if err != nil {
		s.Aborted = true
		s.Error = err.Error()
	}
}
