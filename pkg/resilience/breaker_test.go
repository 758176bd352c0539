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
	"errors"
	"time"

	"github.com/sony/gobreaker"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Circuit Breaker Registry", func() {
	var registry *BreakerRegistry

	BeforeEach(func() {
		registry = NewBreakerRegistry(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 20 * time.Millisecond})
	})

	It("reports an unused endpoint as CLOSED without allocating a breaker", func() {
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateClosed))
	})

	It("opens after exactly failureThreshold consecutive failures", func() {
		for i := 0; i < 3; i++ {
			_, err := registry.Execute("svc-A", func() (any, error) { return nil, errors.New("boom") })
			Expect(err).To(HaveOccurred())
		}
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateOpen))
	})

	It("fast-fails without calling the function while OPEN", func() {
		for i := 0; i < 3; i++ {
			_, _ = registry.Execute("svc-A", func() (any, error) { return nil, errors.New("boom") })
		}

		called := false
		_, err := registry.Execute("svc-A", func() (any, error) {
			called = true
			return nil, nil
		})
		Expect(err).To(HaveOccurred())
		Expect(called).To(BeFalse())
	})

	It("admits a single probe after recoveryTimeMs and returns to CLOSED on success", func() {
		for i := 0; i < 3; i++ {
			_, _ = registry.Execute("svc-A", func() (any, error) { return nil, errors.New("boom") })
		}
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateOpen))

		time.Sleep(30 * time.Millisecond)

		_, err := registry.Execute("svc-A", func() (any, error) { return "ok", nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateClosed))
	})

	It("returns a half-open probe failure to OPEN and restarts the timer", func() {
		for i := 0; i < 3; i++ {
			_, _ = registry.Execute("svc-A", func() (any, error) { return nil, errors.New("boom") })
		}
		time.Sleep(30 * time.Millisecond)

		_, err := registry.Execute("svc-A", func() (any, error) { return nil, errors.New("probe failed") })
		Expect(err).To(HaveOccurred())
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateOpen))
	})

	It("tracks breakers per endpoint independently", func() {
		for i := 0; i < 3; i++ {
			_, _ = registry.Execute("svc-A", func() (any, error) { return nil, errors.New("boom") })
		}
		Expect(registry.State("svc-A")).To(Equal(gobreaker.StateOpen))
		Expect(registry.State("svc-B")).To(Equal(gobreaker.StateClosed))
	})
})
