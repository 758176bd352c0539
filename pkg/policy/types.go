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

// Package policy loads the declarative governance policy and waivers,
// derives effective per-task budgets, and monitors live budget
// consumption (spec.md §4.3).
package policy

import "time"

// RiskTier is one of the three numbered governance tiers.
type RiskTier struct {
	MaxFiles             int     `yaml:"max_files"`
	MaxLoc               int     `yaml:"max_loc"`
	CoverageThreshold    float64 `yaml:"coverage_threshold"`
	MutationThreshold    float64 `yaml:"mutation_threshold"`
	ContractsRequired    bool    `yaml:"contracts_required"`
	ManualReviewRequired bool    `yaml:"manual_review_required"`
}

// Policy is the governance document: a version and the risk-tier table.
type Policy struct {
	Version   string           `yaml:"version"`
	RiskTiers map[int]RiskTier `yaml:"risk_tiers"`
	EditRules []string         `yaml:"edit_rules"`
}

// WaiverStatus is the closed set a waiver document's status field takes.
type WaiverStatus string

const (
	WaiverActive  WaiverStatus = "active"
	WaiverExpired WaiverStatus = "expired"
	WaiverRevoked WaiverStatus = "revoked"
)

// BudgetDelta is the additive relaxation a waiver applies.
type BudgetDelta struct {
	MaxFiles int `yaml:"max_files"`
	MaxLoc   int `yaml:"max_loc"`
}

// Waiver is an identified policy relaxation.
type Waiver struct {
	ID     string       `yaml:"id"`
	Status WaiverStatus `yaml:"status"`
	Gates  []string     `yaml:"gates"`
	Expiry time.Time    `yaml:"expiry"`
	Delta  *BudgetDelta `yaml:"delta"`
}

// Valid reports whether w is active and not expired as of now.
func (w *Waiver) Valid(now time.Time) bool {
	return w.Status == WaiverActive && w.Expiry.After(now)
}

// Budget is the maxFiles/maxLoc pair a tier or a derived effective
// budget carries.
type Budget struct {
	MaxFiles int
	MaxLoc   int
}

// BudgetSpec is the input to DeriveBudget: the task's risk tier and the
// waiver ids it wants applied.
type BudgetSpec struct {
	RiskTier    int
	WaiverIDs   []string
	ApplyWaivers bool
}

// BudgetState is the result of DeriveBudget.
type BudgetState struct {
	Baseline       Budget
	Effective      Budget
	WaiversApplied []string
	DerivedAt      time.Time
	PolicyVersion  string
}

// QualityGates are tier-derived thresholds the arbitration engine
// references, kept separate from file/line budgets.
type QualityGates struct {
	CoverageThreshold float64
	MutationThreshold float64
	ContractsRequired bool
	ManualReview      bool
}
