package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle          bool
	EnableRecognizeThrottle   bool
	MaxMatchAttempts          int
	MatchCooldownDuration     time.Duration
	MaxRecognizeAttempts      int
	RecognizeCooldownDuration time.Duration
}

// Limiter enforces per-user and per-IP budgets on matching operations
// using Redis counters. Counters are shared across all engine instances
// pointed at the same Redis, so the budget holds cluster-wide.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckMatch checks whether the user+IP pair is within the failed-match
// budget. Returns an error if rate-limited.
func (l *Limiter) CheckMatch(ctx context.Context, userID, ip string) error {
	if err := l.checkCounter(ctx, matchUserKey(userID), l.config.MaxMatchAttempts); err != nil {
		return err
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, matchIPKey(ip), l.config.MaxMatchAttempts); err != nil {
			return err
		}
	}

	return nil
}

// IncrementMatch records a failed match attempt for the user+IP pair.
func (l *Limiter) IncrementMatch(ctx context.Context, userID, ip string) error {
	count, err := l.incrementWithTTL(ctx, matchUserKey(userID), l.config.MatchCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxMatchAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, matchIPKey(ip), l.config.MatchCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxMatchAttempts) {
			return ErrRateLimited
		}
	}

	return nil
}

// ResetMatch clears the failed-match counter for the user+IP pair.
// Called after a successful verification.
func (l *Limiter) ResetMatch(ctx context.Context, userID, ip string) error {
	keys := []string{matchUserKey(userID)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, matchIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// CheckRecognize enforces the per-IP budget on gallery-wide searches by
// incrementing the counter and applying the cooldown TTL. A 1:N search
// touches every enrolled embedding, so the budget counts every call,
// not only failures.
func (l *Limiter) CheckRecognize(ctx context.Context, ip string) error {
	if !l.config.EnableRecognizeThrottle || ip == "" {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, recognizeKey(ip), l.config.RecognizeCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRecognizeAttempts) {
		return ErrRateLimited
	}

	return nil
}

// GetMatchAttempts returns the current attempt counter for a user.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetMatchAttempts(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, matchUserKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count > int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func matchUserKey(userID string) string {
	return "rm:" + userID
}

func matchIPKey(ip string) string {
	return "rmi:" + ip
}

func recognizeKey(ip string) string {
	return "rr:" + ip
}
