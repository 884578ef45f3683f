package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hookline/internal/store"
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

// TimerScheduler runs each scheduled delivery on its own timer in this process.
// Timers are lost on restart; the sweep Worker reconciles from the store.
type TimerScheduler struct {
	Handler ExecuteFunc
	Logger  *zap.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler(h ExecuteFunc, logger *zap.Logger) *TimerScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{Handler: h, Logger: logger, timers: map[string]*time.Timer{}}
}

func (s *TimerScheduler) Name() string { return "timer" }

// Schedule replaces any pending timer for the same delivery.
func (s *TimerScheduler) Schedule(ctx context.Context, deliveryID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	if t, ok := s.timers[deliveryID]; ok {
		t.Stop()
	}
	s.timers[deliveryID] = time.AfterFunc(time.Until(at), func() { s.fire(deliveryID) })
	return nil
}

func (s *TimerScheduler) fire(id string) {
	s.mu.Lock()
	delete(s.timers, id)
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if _, err := s.Handler(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotClaimable) {
		s.Logger.Warn("scheduled delivery", zap.String("delivery_id", id), zap.Error(err))
	}
}

// Pending is the number of armed timers.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run blocks until ctx is done, then stops.
func (s *TimerScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop disarms all timers and waits for attempts already in flight.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
