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
	"fmt"
	"time"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/google/uuid"
)

// Config holds the tunables spec.md §6 names under the `arbitration`
// configuration section.
type Config struct {
	MinConfidenceForApproval float64
	AllowConditional         bool
	RequirePrecedents        bool
	MinReasoningSteps        int
	MinSimilarityScore       float64
}

// RuleEvaluator evaluates one named constitutional rule against a
// violation's facts. The concrete binding is pkg/rules, compiling and
// running an OPA module per rule id.
type RuleEvaluator interface {
	Evaluate(ruleID string, facts map[string]any) (RuleEvaluation, error)
}

// PrecedentSource is the subset of the precedent store generateVerdict
// consults: similar prior verdicts for the reasoning chain and the
// confidence calibration.
type PrecedentSource interface {
	FindSimilarPrecedents(category string, severity Severity, keyFacts []string, rulesInvolved []string, minSimilarityScore float64, limit int) []ScoredPrecedent
}

// Engine generates verdicts per spec.md §4.4.
type Engine struct {
	Config    Config
	Evaluator RuleEvaluator
	Store     PrecedentSource
	now       func() time.Time
}

// NewEngine returns a verdict-generating engine. store may be nil, in
// which case no precedents are ever consulted.
func NewEngine(cfg Config, evaluator RuleEvaluator, store PrecedentSource) *Engine {
	return &Engine{Config: cfg, Evaluator: evaluator, Store: store, now: time.Now}
}

// GenerateVerdict implements generateVerdict(session, arbiterId): it
// requires a non-empty session id, a violation, and at least one rule
// id to evaluate, else raises an ArbitrationError. It evaluates every
// named rule, consults matching precedents, builds the deterministic
// reasoning chain, determines the outcome, calibrates confidence, and
// returns a fully-constructed verdict with its seeded audit entry.
func (e *Engine) GenerateVerdict(session *Session, arbiterID string) (*Verdict, error) {
	if session == nil || session.ID == "" {
		return nil, arbitrationError("session id is required")
	}
	if session.Violation == nil {
		return nil, arbitrationError("session violation is required")
	}
	if len(session.RuleIDs) == 0 {
		return nil, arbitrationError("session must evaluate at least one rule")
	}

	var evaluations []RuleEvaluation
	for _, ruleID := range session.RuleIDs {
		if e.Evaluator == nil {
			evaluations = append(evaluations, RuleEvaluation{RuleID: ruleID, Allowed: true})
			continue
		}
		result, err := e.Evaluator.Evaluate(ruleID, session.Violation.Facts)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "evaluate rule %s", ruleID)
		}
		evaluations = append(evaluations, result)
	}

	var precedents []ScoredPrecedent
	if e.Store != nil {
		precedents = e.Store.FindSimilarPrecedents(
			session.Violation.Category,
			session.Violation.Severity,
			keyFactsOf(session.Violation),
			ruleIDsOf(evaluations),
			e.Config.MinSimilarityScore,
			3,
		)
	}

	steps := e.buildReasoningChain(session, evaluations, precedents)
	confidence := e.calibrateConfidence(session, evaluations, precedents, steps)
	outcome, conditions := e.determineOutcome(session, confidence)

	steps = append(steps, ReasoningStep{
		Step:        len(steps) + 1,
		Description: fmt.Sprintf("Final assessment: outcome %s on confidence %.2f", outcome, confidence),
		Inputs:      map[string]any{"outcome": outcome, "confidence": confidence},
	})

	now := e.now()
	verdict := &Verdict{
		ID:             "VERDICT-" + uuid.NewString(),
		SessionID:      session.ID,
		Outcome:        outcome,
		Reasoning:      steps,
		AppliedRuleIDs: ruleIDsOf(evaluations),
		EvidenceRefs:   evidenceRefsOf(session.Evidence),
		PrecedentIDs:   precedentIDsOf(precedents),
		Confidence:     confidence,
		Issuer:         arbiterID,
		IssuedAt:       now,
		Conditions:     conditions,
		Audit: []AuditEntry{
			{Action: "verdict_generated", Actor: arbiterID, Timestamp: now},
		},
	}
	return verdict, nil
}

// AddAuditEntry appends an audit record to verdict in place.
func (e *Engine) AddAuditEntry(verdict *Verdict, action, actor, note string) {
	verdict.Audit = append(verdict.Audit, AuditEntry{
		Action:    action,
		Actor:     actor,
		Note:      note,
		Timestamp: e.now(),
	})
}

// determineOutcome implements the priority-ordered outcome rules.
// Conditions are non-nil only for CONDITIONAL outcomes.
func (e *Engine) determineOutcome(session *Session, confidence float64) (Outcome, []string) {
	if session.WaiverRequest {
		return OutcomeWaived, nil
	}
	if session.Violation.Severity == SeverityCritical {
		return OutcomeRejected, nil
	}
	evidenceCount := len(session.Evidence)
	if confidence >= e.Config.MinConfidenceForApproval && evidenceCount >= 3 && session.Violation.Severity == SeverityMinor {
		return OutcomeApproved, nil
	}
	if e.Config.AllowConditional && inConditionalBand(confidence) {
		return OutcomeConditional, conditionsFor(session.Violation.Severity)
	}
	return OutcomeRejected, nil
}

// inConditionalBand is the fixed confidence window [0.4, 0.7) within
// which a non-approved, non-critical verdict may still be CONDITIONAL
// rather than outright REJECTED. The bounds are not read from Config.
func inConditionalBand(confidence float64) bool {
	return confidence >= 0.4 && confidence < 0.7
}

// conditionsFor derives remediation conditions from violation severity;
// MAJOR yields a 48-hour remediation window per spec.md §4.4.
func conditionsFor(severity Severity) []string {
	switch severity {
	case SeverityMajor:
		return []string{"remediate within 48 hours"}
	case SeverityMinor:
		return []string{"remediate within 7 days"}
	default:
		return []string{"remediate before next release"}
	}
}

func arbitrationError(message string) error {
	return apperrors.New(apperrors.ErrorTypeValidation, "ARBITRATION_INVARIANT_VIOLATED").WithDetailsf(message)
}

func keyFactsOf(v *Violation) []string {
	facts := make([]string, 0, len(v.Facts))
	for k := range v.Facts {
		facts = append(facts, k)
	}
	return facts
}

func ruleIDsOf(evaluations []RuleEvaluation) []string {
	ids := make([]string, 0, len(evaluations))
	for _, r := range evaluations {
		ids = append(ids, r.RuleID)
	}
	return ids
}

func evidenceRefsOf(evidence []Evidence) []string {
	refs := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		refs = append(refs, ev.ID)
	}
	return refs
}

func precedentIDsOf(scored []ScoredPrecedent) []string {
	ids := make([]string, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.Precedent.ID)
	}
	return ids
}
