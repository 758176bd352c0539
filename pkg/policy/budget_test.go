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

package policy

import (
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeLoader struct {
	policy  *Policy
	waivers map[string]*Waiver
}

func (f *fakeLoader) LoadPolicy() (*Policy, error) { return f.policy, nil }
func (f *fakeLoader) LoadWaiver(id string) (*Waiver, error) {
	w, ok := f.waivers[id]
	if !ok {
		return nil, apperrors.NotFound("waiver not found")
	}
	return w, nil
}

var _ = Describe("Budget Derivation", func() {
	var engine *Engine

	BeforeEach(func() {
		loader := &fakeLoader{
			policy: DefaultPolicy(),
			waivers: map[string]*Waiver{
				"W-1": {ID: "W-1", Status: WaiverActive, Expiry: time.Now().Add(time.Hour), Delta: &BudgetDelta{MaxFiles: 2, MaxLoc: 100}},
				"W-2": {ID: "W-2", Status: WaiverExpired, Expiry: time.Now().Add(-time.Hour), Delta: &BudgetDelta{MaxFiles: 99, MaxLoc: 99}},
			},
		}
		store := NewStore(loader, time.Hour)
		engine = NewEngine(store)
	})

	It("returns the tier baseline when no waivers are applied", func() {
		state, err := engine.DeriveBudget(BudgetSpec{RiskTier: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Baseline).To(Equal(Budget{MaxFiles: 8, MaxLoc: 400}))
		Expect(state.Effective).To(Equal(state.Baseline))
		Expect(state.WaiversApplied).To(BeEmpty())
	})

	It("applies a valid waiver's delta to the effective budget", func() {
		state, err := engine.DeriveBudget(BudgetSpec{RiskTier: 2, ApplyWaivers: true, WaiverIDs: []string{"W-1"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Effective).To(Equal(Budget{MaxFiles: 10, MaxLoc: 500}))
		Expect(state.WaiversApplied).To(ConsistOf("W-1"))
	})

	It("silently skips an expired waiver", func() {
		state, err := engine.DeriveBudget(BudgetSpec{RiskTier: 2, ApplyWaivers: true, WaiverIDs: []string{"W-2"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Effective).To(Equal(state.Baseline))
		Expect(state.WaiversApplied).To(BeEmpty())
	})

	It("silently skips an unresolvable waiver id", func() {
		state, err := engine.DeriveBudget(BudgetSpec{RiskTier: 2, ApplyWaivers: true, WaiverIDs: []string{"missing"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(state.WaiversApplied).To(BeEmpty())
	})

	It("fails with INVALID_RISK_TIER for an unknown tier", func() {
		_, err := engine.DeriveBudget(BudgetSpec{RiskTier: 9})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("INVALID_RISK_TIER"))
	})
})
