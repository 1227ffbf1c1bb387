package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work the daemon runs every Every cycles.
type Job struct {
	Name  string
	Every int
	Run   func(ctx context.Context) error
}

// Daemon runs jobs on a fixed cycle. A job still running when its next
// turn comes is skipped for that cycle.
type Daemon struct {
	Interval time.Duration
	Jobs     []Job
	Logger   *zap.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]bool
}

// Start runs the first cycle immediately and then one per Interval until ctx
// is cancelled. It returns after in-flight jobs have finished.
func (d *Daemon) Start(ctx context.Context) error {
	if d.Interval <= 0 {
		return errors.New("daemon interval must be positive")
	}
	d.running = make(map[string]bool)

	cycle := 0
	d.runCycle(ctx, cycle)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Logger.Info("daemon stopping, waiting for running jobs")
			d.wg.Wait()
			return nil
		case <-ticker.C:
			cycle++
			d.runCycle(ctx, cycle)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context, cycle int) {
	for _, job := range d.Jobs {
		if !Due(job.Every, cycle) {
			continue
		}
		if !d.acquire(job.Name) {
			d.Logger.Warn("job still running, skipping cycle", zap.String("job", job.Name), zap.Int("cycle", cycle))
			continue
		}

		job := job
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.release(job.Name)

			if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.Logger.Error("job failed", zap.String("job", job.Name), zap.Int("cycle", cycle), zap.Error(err))
			}
		}()
	}
}

func (d *Daemon) acquire(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[name] {
		return false
	}
	d.running[name] = true
	return true
}

func (d *Daemon) release(name string) {
	d.mu.Lock()
	delete(d.running, name)
	d.mu.Unlock()
}

// Due reports whether a job with cadence every runs on cycle. Cycle zero
// runs everything.
func Due(every, cycle int) bool {
	if every <= 1 {
		return true
	}
	return cycle%every == 0
}
