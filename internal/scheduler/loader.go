package scheduler

import (
	"context"
	"fmt"

	"athsync/internal/model"
	"athsync/internal/storage"

	"go.uber.org/zap"
)

// CallLoader selects a tier's calls from the store and streams them to workers.
type CallLoader struct {
	Store  storage.CallStore
	Logger *zap.Logger
}

// LoadCalls runs the tier selection and streams the result into ch, closing
// it when done so consumers can exit cleanly.
func (l *CallLoader) LoadCalls(ctx context.Context, q storage.TierQuery, ch chan<- model.Call) error {
	defer close(ch)

	calls, err := l.Store.SelectForTier(ctx, q)
	if err != nil {
		l.Logger.Error("failed to select calls", zap.Error(err))
		return fmt.Errorf("select calls: %w", err)
	}
	l.Logger.Info("loaded calls", zap.Int("count", len(calls)))

	for _, call := range calls {
		select {
		case ch <- call:
		case <-ctx.Done():
			l.Logger.Warn("call streaming interrupted", zap.Error(ctx.Err()))
			return nil
		}
	}
	return nil
}
