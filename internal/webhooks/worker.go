package webhooks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hookline/internal/model"
	"hookline/internal/store"
)

// Worker periodically sweeps the store for deliveries whose next_attempt_at has
// passed: timers lost to a restart, attempts whose lease expired after an
// internal error, and deliveries the scheduler never received.
type Worker struct {
	Store       store.Store
	Handler     ExecuteFunc
	Logger      *zap.Logger
	Interval    time.Duration
	Batch       int
	Concurrency int
	Stop        chan struct{}
}

func NewWorker(s store.Store, h ExecuteFunc, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		Store:       s,
		Handler:     h,
		Logger:      logger,
		Interval:    5 * time.Second,
		Batch:       50,
		Concurrency: 8,
		Stop:        make(chan struct{}),
	}
}

// DueForRetry lists non-terminal deliveries due at now, oldest first.
func (w *Worker) DueForRetry(ctx context.Context, now time.Time) ([]model.Delivery, error) {
	return w.Store.DueDeliveries(ctx, now, w.Batch)
}

// Start runs the sweep loop in a goroutine until Stop is closed.
func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce(context.Background())
			}
		}
	}()
}

// Run is Start for errgroup callers: it blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Stop:
			return nil
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, w.Interval*4)
	defer cancel()
	items, err := w.DueForRetry(ctx, time.Now().UTC())
	if err != nil {
		w.Logger.Warn("sweep due deliveries", zap.Error(err))
		return 0
	}
	if len(items) == 0 {
		return 0
	}
	var g errgroup.Group
	g.SetLimit(max(w.Concurrency, 1))
	for _, it := range items {
		g.Go(func() error {
			_, err := w.Handler(ctx, it.ID)
			if err != nil && !errors.Is(err, store.ErrNotClaimable) {
				w.Logger.Warn("sweep delivery", zap.String("delivery_id", it.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	w.Logger.Debug("sweep", zap.Int("due", len(items)))
	return len(items)
}
