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
)

// Engine derives budgets and quality gates from the cached policy.
type Engine struct {
	store *Store
	now   func() time.Time
}

// NewEngine returns an engine reading from store.
func NewEngine(store *Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// DeriveBudget implements spec.md §4.3's deriveBudget: baseline from the
// tier table, effective = baseline plus the additive delta of every
// valid, present waiver in spec.WaiverIDs. Invalid waivers (expired,
// revoked, or unresolvable) are silently skipped.
func (e *Engine) DeriveBudget(spec BudgetSpec) (*BudgetState, error) {
	p, err := e.store.Policy()
	if err != nil {
		return nil, err
	}
	tier, ok := p.RiskTiers[spec.RiskTier]
	if !ok {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "INVALID_RISK_TIER").WithDetailsf("tier=%d", spec.RiskTier)
	}

	baseline := Budget{MaxFiles: tier.MaxFiles, MaxLoc: tier.MaxLoc}
	effective := baseline
	var applied []string

	if spec.ApplyWaivers {
		now := e.now()
		for _, id := range spec.WaiverIDs {
			w, err := e.store.LoadWaiver(id)
			if err != nil || w == nil || !w.Valid(now) {
				continue
			}
			if w.Delta != nil {
				effective.MaxFiles += w.Delta.MaxFiles
				effective.MaxLoc += w.Delta.MaxLoc
			}
			applied = append(applied, id)
		}
	}

	return &BudgetState{
		Baseline:       baseline,
		Effective:      effective,
		WaiversApplied: applied,
		DerivedAt:      e.now(),
		PolicyVersion:  p.Version,
	}, nil
}

// QualityGates returns the tier-derived gate thresholds the arbitration
// engine references, separate from file/line budgets.
func (e *Engine) QualityGates(riskTier int) (*QualityGates, error) {
	p, err := e.store.Policy()
	if err != nil {
		return nil, err
	}
	tier, ok := p.RiskTiers[riskTier]
	if !ok {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "INVALID_RISK_TIER").WithDetailsf("tier=%d", riskTier)
	}
	return &QualityGates{
		CoverageThreshold: tier.CoverageThreshold,
		MutationThreshold: tier.MutationThreshold,
		ContractsRequired: tier.ContractsRequired,
		ManualReview:      tier.ManualReviewRequired,
	}, nil
}
