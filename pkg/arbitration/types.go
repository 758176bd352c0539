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

// Package arbitration implements the verdict generator of spec.md §4.4:
// a deterministic reasoning chain, a calibrated confidence, and a
// precedent store consulted by both.
package arbitration

import "time"

// Severity is the closed set of violation severities.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for the "adjacent" comparison
// findSimilarPrecedents needs; assessApplicability compares severities
// for equality only.
var severityRank = map[Severity]int{
	SeverityMinor:    0,
	SeverityMajor:    1,
	SeverityCritical: 2,
}

// Outcome is the closed set of verdict outcomes.
type Outcome string

const (
	OutcomeApproved   Outcome = "APPROVED"
	OutcomeRejected   Outcome = "REJECTED"
	OutcomeConditional Outcome = "CONDITIONAL"
	OutcomeWaived     Outcome = "WAIVED"
)

// Violation describes the constitutional violation under review.
type Violation struct {
	ID       string
	Category string
	Severity Severity
	Summary  string
	Facts    map[string]any
}

// Evidence is a single reference cited in support of or against a
// violation.
type Evidence struct {
	ID          string
	Description string
}

// RuleEvaluation is the result of evaluating one constitutional rule
// (an OPA module) against a violation's facts.
type RuleEvaluation struct {
	RuleID  string
	Allowed bool
	Reason  string
}

// Session is an arbitration session: one violation to be evaluated
// against a named set of constitutional rules, optionally with a
// waiver request.
type Session struct {
	ID            string
	Violation     *Violation
	RuleIDs       []string
	Evidence      []Evidence
	WaiverRequest bool
}

// ReasoningStep is one entry in a verdict's ordered reasoning chain.
type ReasoningStep struct {
	Step        int
	Description string
	Inputs      map[string]any
}

// AuditEntry records one action taken against a verdict.
type AuditEntry struct {
	Action    string
	Actor     string
	Note      string
	Timestamp time.Time
}

// Verdict is the arbitration outcome for a session, per spec.md §3.
type Verdict struct {
	ID              string
	SessionID       string
	Outcome         Outcome
	Reasoning       []ReasoningStep
	AppliedRuleIDs  []string
	EvidenceRefs    []string
	PrecedentIDs    []string
	Confidence      float64
	Issuer          string
	IssuedAt        time.Time
	Conditions      []string
	Audit           []AuditEntry
}

// ApplicabilityDescriptor captures the scope a precedent applies to.
type ApplicabilityDescriptor struct {
	Category   string
	Severity   Severity
	Conditions []string
}

// PrecedentMetadata carries the overrule bookkeeping spec.md §3 names.
type PrecedentMetadata struct {
	Overruled       bool
	OverruledBy     string
	OverruledReason string
}

// Precedent is a stored prior verdict consulted by future arbitrations.
type Precedent struct {
	ID              string
	Title           string
	RulesInvolved   []string
	VerdictSnapshot *Verdict
	KeyFacts        []string
	Summary         string
	Applicability   ApplicabilityDescriptor
	CitationCount   int
	CreatedAt       time.Time
	Metadata        PrecedentMetadata
}

// ScoredPrecedent is one result of findSimilarPrecedents.
type ScoredPrecedent struct {
	Precedent       *Precedent
	Score           float64
	MatchingFactors []string
}

// Applicability is the result of assessApplicability.
type Applicability struct {
	Applicable bool
	Confidence float64
	Reasoning  string
}
