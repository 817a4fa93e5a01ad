package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures the circuit breaker guarding Redis.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// NewBreaker builds a breaker that opens after FailureThreshold consecutive
// failures.
func NewBreaker(name string, s BreakerSettings, log *zap.Logger) *gobreaker.CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit-breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
	CB     *gobreaker.CircuitBreaker
}

func NewRedisCache(url string, ttl time.Duration, cb *gobreaker.CircuitBreaker) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	return &RedisCache{Client: client, TTL: ttl, CB: cb}, nil
}

func (c *RedisCache) execute(fn func() error) error {
	if c.CB == nil {
		return fn()
	}
	_, err := c.CB.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	var val string
	err := c.execute(func() error {
		var err error
		val, err = c.Client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			val = ""
			return nil
		}
		return err
	})
	if err != nil || val == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.execute(func() error {
		return c.Client.Set(ctx, key, b, c.TTL).Err()
	})
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.execute(func() error {
		return c.Client.Del(ctx, key).Err()
	})
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.execute(func() error {
		return c.Client.Ping(ctx).Err()
	})
}

func (c *RedisCache) Close() error { return c.Client.Close() }
