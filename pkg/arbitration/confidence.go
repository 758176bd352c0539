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

// richnessCeiling is the reasoning-step count, excluding the final
// assessment step, past which additional steps no longer raise the
// base confidence further.
const richnessCeiling = 6

// calibrateConfidence implements spec.md §4.4's confidence model: a
// base from reasoning-step richness (normalized 0-1), plus additive
// modifiers for precedent consultation, evidence strength, waiver
// presence, and severity, clamped to [0, 1].
func (e *Engine) calibrateConfidence(session *Session, evaluations []RuleEvaluation, precedents []ScoredPrecedent, steps []ReasoningStep) float64 {
	base := float64(len(steps)) / float64(richnessCeiling)
	if base > 1 {
		base = 1
	}

	confidence := base
	if len(precedents) > 0 {
		confidence += 0.10
	}
	if len(session.Evidence) >= 4 {
		confidence += 0.10
	}
	if session.WaiverRequest {
		confidence -= 0.15
	}
	if session.Violation.Severity == SeverityMajor || session.Violation.Severity == SeverityCritical {
		confidence -= 0.05
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
