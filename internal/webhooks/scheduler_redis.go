package webhooks

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hookline/internal/store"
)

const DefaultRedisScheduleKey = "hookline:deliveries:due"

// RedisScheduler keeps due deliveries in a sorted set scored by due time (unix ms).
// Any number of processes may poll the same key; ZREM decides which one runs an entry.
type RedisScheduler struct {
	Client       redis.UniversalClient
	Key          string
	Handler      ExecuteFunc
	Logger       *zap.Logger
	PollInterval time.Duration
	Batch        int64
	Concurrency  int
}

func NewRedisScheduler(c redis.UniversalClient, h ExecuteFunc, logger *zap.Logger) *RedisScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisScheduler{
		Client:       c,
		Key:          DefaultRedisScheduleKey,
		Handler:      h,
		Logger:       logger,
		PollInterval: 500 * time.Millisecond,
		Batch:        100,
		Concurrency:  16,
	}
}

func (s *RedisScheduler) Name() string { return "redis" }

func (s *RedisScheduler) Schedule(ctx context.Context, deliveryID string, at time.Time) error {
	return s.Client.ZAdd(ctx, s.Key, redis.Z{Score: dueScore(at), Member: deliveryID}).Err()
}

// dueScore is at in unix milliseconds, rounded up so that Poll never removes an
// entry before its delivery becomes claimable.
func dueScore(at time.Time) float64 {
	ms := at.UnixMilli()
	if at.After(time.UnixMilli(ms)) {
		ms++
	}
	return float64(ms)
}

func (s *RedisScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Poll(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Warn("redis scheduler poll", zap.Error(err))
			}
		}
	}
}

// Poll runs every entry due at now that this process manages to remove from the set.
// It returns the number of deliveries it executed.
func (s *RedisScheduler) Poll(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.Client.ZRangeByScore(ctx, s.Key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: s.Batch,
	}).Result()
	if err != nil {
		return 0, err
	}
	var g errgroup.Group
	g.SetLimit(max(s.Concurrency, 1))
	ran := 0
	for _, id := range ids {
		n, err := s.Client.ZRem(ctx, s.Key, id).Result()
		if err != nil {
			return ran, err
		}
		if n == 0 {
			continue
		}
		ran++
		g.Go(func() error {
			if _, err := s.Handler(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, store.ErrNotClaimable) {
				s.Logger.Warn("scheduled delivery", zap.String("delivery_id", id), zap.Error(err))
			}
			return nil
		})
	}
	return ran, g.Wait()
}
