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

// Package rules hosts the constitutional rule table the Arbitration
// Engine evaluates: each rule is a small Rego module compiled and run
// with github.com/open-policy-agent/opa's rego package, satisfying
// pkg/arbitration.RuleEvaluator.
package rules

import (
	"context"
	"sync"

	apperrors "github.com/darianrosebrook/agent-agency/internal/errors"
	"github.com/darianrosebrook/agent-agency/pkg/arbitration"
	"github.com/darianrosebrook/agent-agency/pkg/resilience"
	"github.com/open-policy-agent/opa/rego"
)

// Module is one named constitutional rule: a Rego source evaluated
// against a violation's facts via query.
type Module struct {
	ID     string
	Policy string
	Query  string
}

// Evaluator compiles and evaluates registered rule modules, caching
// the prepared query per rule id so repeated arbitration sessions
// don't recompile Rego on every call.
type Evaluator struct {
	mu       sync.RWMutex
	prepared map[string]*rego.PreparedEvalQuery
	ctx      func() context.Context
	Breaker  *resilience.BreakerRegistry
}

// NewEvaluator returns an evaluator with no rules registered.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		prepared: make(map[string]*rego.PreparedEvalQuery),
		ctx:      context.Background,
	}
}

// Register compiles m and makes it evaluable under m.ID. Re-registering
// an id replaces the previous compilation.
func (e *Evaluator) Register(m Module) error {
	query, err := rego.New(
		rego.Query(m.Query),
		rego.Module(m.ID+".rego", m.Policy),
	).PrepareForEval(e.ctx())
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "compile rule %s", m.ID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepared[m.ID] = &query
	return nil
}

// Evaluate implements arbitration.RuleEvaluator: it runs the named
// rule's compiled query against facts and extracts the `allow` boolean
// and `reason` string the rule's Rego document produces.
func (e *Evaluator) Evaluate(ruleID string, facts map[string]any) (arbitration.RuleEvaluation, error) {
	e.mu.RLock()
	query, ok := e.prepared[ruleID]
	e.mu.RUnlock()
	if !ok {
		return arbitration.RuleEvaluation{}, apperrors.New(apperrors.ErrorTypeNotFound, "RULE_NOT_REGISTERED").WithDetailsf("ruleId=%s", ruleID)
	}

	input := facts
	if input == nil {
		input = map[string]any{}
	}

	raw, err := resilience.Guard(e.Breaker, "opa:"+ruleID, func() (any, error) {
		return query.Eval(e.ctx(), rego.EvalInput(input))
	})
	if err != nil {
		return arbitration.RuleEvaluation{}, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "evaluate rule %s", ruleID)
	}
	results, _ := raw.(rego.ResultSet)
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return arbitration.RuleEvaluation{RuleID: ruleID, Allowed: false, Reason: "no result produced"}, nil
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return arbitration.RuleEvaluation{RuleID: ruleID, Allowed: false, Reason: "malformed rule output"}, nil
	}

	allowed, _ := decision["allow"].(bool)
	reason, _ := decision["reason"].(string)
	if reason == "" {
		reason = "no reason given"
	}
	return arbitration.RuleEvaluation{RuleID: ruleID, Allowed: allowed, Reason: reason}, nil
}
