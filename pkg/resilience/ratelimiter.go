/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimiterState is the closed set of states a rate-limited key can be in.
type LimiterState string

const (
	LimiterAllowed   LimiterState = "ALLOWED"
	LimiterThrottled LimiterState = "THROTTLED"
	LimiterBlocked   LimiterState = "BLOCKED"
)

// RateLimiterConfig controls the sliding window and backoff curve.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BackoffMultiplier float64
	BaseBackoffMs     int
	MaxBackoffMs      int
}

// RateLimiter implements spec.md §4.5's sliding-window per-key rate
// limiter on a Redis sorted set: each request timestamp is a member
// scored by itself, pruned to the trailing minute on every check.
type RateLimiter struct {
	client *redis.Client
	cfg    RateLimiterConfig
	now    func() time.Time
}

// NewRateLimiter returns a limiter backed by client. A zero
// BaseBackoffMs defaults to 5000 (5s) per spec.md §4.5.
func NewRateLimiter(client *redis.Client, cfg RateLimiterConfig) *RateLimiter {
	if cfg.BaseBackoffMs == 0 {
		cfg.BaseBackoffMs = 5000
	}
	return &RateLimiter{client: client, cfg: cfg, now: time.Now}
}

func windowKey(key string) string  { return "ratelimit:window:" + key }
func backoffKey(key string) string { return "ratelimit:backoff:" + key }
func blockedKey(key string) string { return "ratelimit:blocked:" + key }

// Allow records a request attempt for key and reports whether it is
// allowed, throttled (with the backoff the caller should honor before
// retrying), or blocked outright.
func (l *RateLimiter) Allow(ctx context.Context, key string) (LimiterState, time.Duration, error) {
	blockedUntil, err := l.client.Get(ctx, blockedKey(key)).Int64()
	switch {
	case err == nil:
		if remaining := blockedUntil - l.now().UnixMilli(); remaining > 0 {
			return LimiterBlocked, time.Duration(remaining) * time.Millisecond, nil
		}
	case err != redis.Nil:
		return "", 0, err
	}

	now := l.now()
	cutoff := now.Add(-time.Minute).UnixNano()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, windowKey(key), "0", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, windowKey(key), redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, windowKey(key), time.Minute)
	card := pipe.ZCard(ctx, windowKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", 0, err
	}

	count, err := card.Result()
	if err != nil {
		return "", 0, err
	}
	if int(count) <= l.cfg.RequestsPerMinute {
		return LimiterAllowed, 0, nil
	}

	backoff, err := l.nextBackoff(ctx, key)
	if err != nil {
		return "", 0, err
	}
	return LimiterThrottled, backoff, nil
}

// NotifyDownstream429 drives the same throttle transition Allow's
// window-overflow path does, for the case spec.md §4.5 calls out
// separately: any 429 response from the downstream target.
func (l *RateLimiter) NotifyDownstream429(ctx context.Context, key string) (time.Duration, error) {
	return l.nextBackoff(ctx, key)
}

func (l *RateLimiter) nextBackoff(ctx context.Context, key string) (time.Duration, error) {
	attempts, err := l.client.Incr(ctx, backoffKey(key)).Result()
	if err != nil {
		return 0, err
	}
	l.client.Expire(ctx, backoffKey(key), time.Minute)

	ms := float64(l.cfg.BaseBackoffMs) * math.Pow(l.cfg.BackoffMultiplier, float64(attempts-1))
	if ms > float64(l.cfg.MaxBackoffMs) {
		ms = float64(l.cfg.MaxBackoffMs)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Block moves key into BLOCKED for duration, refusing all calls until
// it elapses.
func (l *RateLimiter) Block(ctx context.Context, key string, duration time.Duration) error {
	until := l.now().Add(duration).UnixMilli()
	return l.client.Set(ctx, blockedKey(key), until, duration).Err()
}
