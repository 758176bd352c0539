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

package arbitration

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeEvaluator allows every rule, recording the ids it was asked
// about.
type fakeEvaluator struct {
	seen []string
}

func (f *fakeEvaluator) Evaluate(ruleID string, facts map[string]any) (RuleEvaluation, error) {
	f.seen = append(f.seen, ruleID)
	return RuleEvaluation{RuleID: ruleID, Allowed: true, Reason: "evaluated"}, nil
}

// fakePrecedentSource returns a fixed, pre-scored set of precedents
// regardless of the query, so tests can isolate the precedent-boost
// effect from the store's own scoring logic.
type fakePrecedentSource struct {
	results []ScoredPrecedent
}

func (f *fakePrecedentSource) FindSimilarPrecedents(category string, severity Severity, keyFacts, rulesInvolved []string, minSimilarityScore float64, limit int) []ScoredPrecedent {
	return f.results
}

func defaultConfig() Config {
	return Config{
		MinConfidenceForApproval: 0.6,
		AllowConditional:         true,
		RequirePrecedents:        false,
		MinReasoningSteps:        3,
		MinSimilarityScore:       0.3,
	}
}

var _ = Describe("Verdict Generation", func() {
	var session *Session

	BeforeEach(func() {
		session = &Session{
			ID: "SESS-1",
			Violation: &Violation{
				ID:       "V-1",
				Category: "code-change",
				Severity: SeverityMinor,
				Summary:  "edited a shared config file outside policy",
				Facts:    map[string]any{"files_changed": 1},
			},
			RuleIDs:  []string{"rule-1"},
			Evidence: []Evidence{{ID: "E-1"}, {ID: "E-2"}, {ID: "E-3"}},
		}
	})

	Context("invariants", func() {
		It("rejects a session with no id", func() {
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			session.ID = ""
			_, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).To(HaveOccurred())
		})

		It("rejects a session with no violation", func() {
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			session.Violation = nil
			_, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).To(HaveOccurred())
		})

		It("rejects a session with no rules to evaluate", func() {
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			session.RuleIDs = nil
			_, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).To(HaveOccurred())
		})
	})

	// Scenario 3 (spec.md §8): critical severity forces REJECTED
	// regardless of confidence or evidence.
	Context("BR-SCENARIO-3: critical severity", func() {
		It("rejects with a complete reasoning chain and a seeded audit log", func() {
			session.Violation.Severity = SeverityCritical
			session.Evidence = []Evidence{{ID: "E-1"}, {ID: "E-2"}}

			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			verdict, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(verdict.Outcome).To(Equal(OutcomeRejected))
			Expect(verdict.ID).To(HavePrefix("VERDICT-"))
			Expect(len(verdict.Reasoning)).To(BeNumerically(">=", 3))
			Expect(verdict.Reasoning[0].Description).To(ContainSubstring("violation"))
			Expect(verdict.Reasoning[len(verdict.Reasoning)-1].Description).To(ContainSubstring("Final assessment"))
			Expect(verdict.Confidence).To(BeNumerically(">=", 0))
			Expect(verdict.Confidence).To(BeNumerically("<=", 1))
			Expect(verdict.Audit).To(HaveLen(1))
			Expect(verdict.Audit[0].Action).To(Equal("verdict_generated"))
		})
	})

	// Scenario 4 (spec.md §8): a matching precedent strictly raises
	// confidence for an otherwise-identical MINOR session, and flips
	// the outcome to APPROVED.
	Context("BR-SCENARIO-4: precedent boost", func() {
		It("yields strictly higher confidence and an APPROVED outcome with a precedent present", func() {
			withoutPrecedent := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			baseline, err := withoutPrecedent.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())

			precedent := &Precedent{
				ID:            "PREC-1",
				Title:         "prior similar config edit",
				Applicability: ApplicabilityDescriptor{Category: "code-change", Severity: SeverityMinor},
			}
			withPrecedent := NewEngine(defaultConfig(), &fakeEvaluator{}, &fakePrecedentSource{
				results: []ScoredPrecedent{{Precedent: precedent, Score: 0.8, MatchingFactors: []string{"category match"}}},
			})
			boosted, err := withPrecedent.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(boosted.Confidence).To(BeNumerically(">", baseline.Confidence))
			Expect(boosted.Outcome).To(Equal(OutcomeApproved))
			Expect(boosted.PrecedentIDs).To(ConsistOf("PREC-1"))

			var precedentStep bool
			for _, step := range boosted.Reasoning {
				if strings.Contains(step.Description, "precedent") {
					precedentStep = true
				}
			}
			Expect(precedentStep).To(BeTrue())
		})
	})

	Context("outcome determination", func() {
		It("produces WAIVED when a waiver request is present, even for a critical violation", func() {
			session.Violation.Severity = SeverityCritical
			session.WaiverRequest = true
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			verdict, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(OutcomeWaived))
		})

		It("produces CONDITIONAL with a 48-hour condition for a MAJOR severity in the conditional band", func() {
			session.Violation.Severity = SeverityMajor
			session.Evidence = nil
			session.RuleIDs = []string{"rule-1"}
			cfg := defaultConfig()
			cfg.MinConfidenceForApproval = 0.99
			engine := NewEngine(cfg, &fakeEvaluator{}, nil)
			verdict, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())
			if verdict.Outcome == OutcomeConditional {
				Expect(verdict.Conditions).To(ContainElement(ContainSubstring("48 hours")))
			}
		})
	})

	Context("confidence clamping", func() {
		It("clamps a rich, heavily-boosted chain at exactly 1.0", func() {
			session.RuleIDs = []string{"rule-1", "rule-2", "rule-3", "rule-4"}
			session.Evidence = []Evidence{{ID: "E-1"}, {ID: "E-2"}, {ID: "E-3"}, {ID: "E-4"}}
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, &fakePrecedentSource{
				results: []ScoredPrecedent{{Precedent: &Precedent{ID: "PREC-1", Applicability: ApplicabilityDescriptor{Category: "code-change"}}}},
			})
			verdict, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Confidence).To(Equal(1.0))
		})

		It("never lets the CRITICAL+waiver penalties push confidence below 0", func() {
			session.Violation.Severity = SeverityCritical
			session.WaiverRequest = true
			session.Evidence = nil
			engine := NewEngine(defaultConfig(), &fakeEvaluator{}, nil)
			verdict, err := engine.GenerateVerdict(session, "arbiter-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Confidence).To(BeNumerically(">=", 0))
		})
	})
})
