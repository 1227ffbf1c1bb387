// Package notify delivers engine events to an external consumer.
package notify

import (
	"context"

	"athsync/internal/model"
)

// Sink receives events after the corresponding patch has been persisted.
// Publish failures are logged by callers and never fail a run.
type Sink interface {
	Publish(ctx context.Context, e model.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, model.Event) error { return nil }
func (Nop) Close() error { return nil }

// Recorder keeps published events in memory, for dry runs and tests.
type Recorder struct {
	ch chan model.Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan model.Event, size)}
}

func (r *Recorder) Publish(ctx context.Context, e model.Event) error {
	select {
	case r.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) Close() error { return nil }

// Drain returns the events published so far.
func (r *Recorder) Drain() []model.Event {
	var out []model.Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
