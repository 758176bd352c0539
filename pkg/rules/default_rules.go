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

package rules

// DefaultModules returns the baseline constitutional rule table: a
// small set of Rego modules evaluating common violation facts. Callers
// register these (or their own) with an Evaluator at startup.
func DefaultModules() []Module {
	return []Module{
		{
			ID: "no-unreviewed-critical-change",
			Query: "data.constitutional.no_unreviewed_critical_change.decision",
			Policy: `package constitutional.no_unreviewed_critical_change

import rego.v1

default decision := {"allow": true, "reason": "no critical severity present"}

decision := {"allow": false, "reason": "critical severity changes require manual review"} if {
	input.severity == "CRITICAL"
	not input.manual_review_completed
}
`,
		},
		{
			ID: "budget-within-declared-tier",
			Query: "data.constitutional.budget_within_declared_tier.decision",
			Policy: `package constitutional.budget_within_declared_tier

import rego.v1

default decision := {"allow": true, "reason": "within declared budget"}

decision := {"allow": false, "reason": "change exceeds its declared risk tier's budget"} if {
	input.files_changed > input.max_files
}

decision := {"allow": false, "reason": "change exceeds its declared risk tier's budget"} if {
	input.lines_changed > input.max_loc
}
`,
		},
		{
			ID: "contracts-required-for-tier",
			Query: "data.constitutional.contracts_required_for_tier.decision",
			Policy: `package constitutional.contracts_required_for_tier

import rego.v1

default decision := {"allow": true, "reason": "contracts not required or present"}

decision := {"allow": false, "reason": "risk tier requires contract tests"} if {
	input.contracts_required == true
	not input.contracts_present
}
`,
		},
	}
}
