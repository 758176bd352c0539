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
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func toMillis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

var _ = Describe("Rate Limiter", func() {
	var (
		server *miniredis.Miniredis
		client *redis.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		ctx = context.Background()
	})

	AfterEach(func() {
		client.Close()
		server.Close()
	})

	It("allows requests within the window", func() {
		limiter := NewRateLimiter(client, RateLimiterConfig{RequestsPerMinute: 5, BackoffMultiplier: 2, MaxBackoffMs: 60000})
		for i := 0; i < 5; i++ {
			state, _, err := limiter.Allow(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(LimiterAllowed))
		}
	})

	It("throttles once the window overflows, with exponential backoff on repeated overflow", func() {
		limiter := NewRateLimiter(client, RateLimiterConfig{RequestsPerMinute: 2, BackoffMultiplier: 2, MaxBackoffMs: 60000})
		for i := 0; i < 2; i++ {
			state, _, err := limiter.Allow(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(LimiterAllowed))
		}

		state, firstBackoff, err := limiter.Allow(ctx, "tenant-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(LimiterThrottled))
		Expect(firstBackoff).To(Equal(toMillis(5000)))

		state, secondBackoff, err := limiter.Allow(ctx, "tenant-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(LimiterThrottled))
		Expect(secondBackoff).To(BeNumerically(">", firstBackoff))
	})

	It("caps backoff at maxBackoffMs", func() {
		limiter := NewRateLimiter(client, RateLimiterConfig{RequestsPerMinute: 0, BackoffMultiplier: 10, MaxBackoffMs: 8000})
		var last int64
		for i := 0; i < 5; i++ {
			_, backoff, err := limiter.Allow(ctx, "tenant-1")
			Expect(err).NotTo(HaveOccurred())
			last = backoff.Milliseconds()
		}
		Expect(last).To(BeNumerically("<=", 8000))
	})

	It("keeps a key in BLOCKED until its duration elapses", func() {
		limiter := NewRateLimiter(client, RateLimiterConfig{RequestsPerMinute: 100, BackoffMultiplier: 2, MaxBackoffMs: 60000})
		Expect(limiter.Block(ctx, "tenant-1", toMillis(1000))).To(Succeed())

		state, remaining, err := limiter.Allow(ctx, "tenant-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(LimiterBlocked))
		Expect(remaining).To(BeNumerically(">", 0))

		server.FastForward(2 * time.Second)
		state, _, err = limiter.Allow(ctx, "tenant-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(LimiterAllowed))
	})

	It("drives the same throttle transition on a reported downstream 429", func() {
		limiter := NewRateLimiter(client, RateLimiterConfig{RequestsPerMinute: 100, BackoffMultiplier: 2, MaxBackoffMs: 60000})
		backoff, err := limiter.NotifyDownstream429(ctx, "tenant-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(backoff).To(Equal(toMillis(5000)))
	})
})
