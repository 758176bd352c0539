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

import "fmt"

// buildReasoningChain builds the deterministic, ordered reasoning chain
// spec.md §4.4 describes: a violation step, one step per evaluated
// rule, one step per consulted precedent, an evidence step, and
// (appended by the caller) a final "Final assessment" step. When the
// resulting chain would fall short of minReasoningSteps it appends a
// warning step after the evidence step, since the step count is only
// known once every other step is built.
func (e *Engine) buildReasoningChain(session *Session, evaluations []RuleEvaluation, precedents []ScoredPrecedent) []ReasoningStep {
	var steps []ReasoningStep

	steps = append(steps, ReasoningStep{
		Step:        1,
		Description: fmt.Sprintf("Reviewing constitutional violation %s: %s", session.Violation.ID, session.Violation.Summary),
		Inputs:      map[string]any{"violationId": session.Violation.ID, "severity": session.Violation.Severity},
	})

	for _, r := range evaluations {
		decision := "permitted"
		if !r.Allowed {
			decision = "denied"
		}
		steps = append(steps, ReasoningStep{
			Step:        len(steps) + 1,
			Description: fmt.Sprintf("Evaluated constitutional rule %s: %s (%s)", r.RuleID, decision, r.Reason),
			Inputs:      map[string]any{"ruleId": r.RuleID, "allowed": r.Allowed},
		})
	}

	for _, p := range precedents {
		steps = append(steps, ReasoningStep{
			Step:        len(steps) + 1,
			Description: fmt.Sprintf("Consulted precedent %s (score %.2f): %s", p.Precedent.ID, p.Score, p.Precedent.Title),
			Inputs:      map[string]any{"precedentId": p.Precedent.ID, "score": p.Score},
		})
	}

	steps = append(steps, ReasoningStep{
		Step:        len(steps) + 1,
		Description: fmt.Sprintf("Weighed evidence: %d reference(s) considered", len(session.Evidence)),
		Inputs:      map[string]any{"evidenceCount": len(session.Evidence)},
	})

	// The final assessment step is appended by GenerateVerdict once the
	// outcome and confidence are known; account for it here so the
	// minimum-step warning reflects the chain that will actually ship.
	// The warning is appended, never prepended: the violation step must
	// stay first regardless of chain length.
	if len(steps)+1 < e.Config.MinReasoningSteps {
		steps = append(steps, ReasoningStep{
			Step:        len(steps) + 1,
			Description: fmt.Sprintf("Warning: reasoning chain has fewer than the configured minimum of %d steps", e.Config.MinReasoningSteps),
		})
	}

	return steps
}
