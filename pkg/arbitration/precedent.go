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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory precedent store: shared-readable, writes
// serialized behind a single mutex per spec.md §5's ownership model
// (create, cite, and overrule are the only writers). pkg/storage's
// PrecedentStore persists precedents durably through save, get, and
// list only; it has no similarity search, citation, or overrule
// methods.
type Store struct {
	mu         sync.RWMutex
	precedents map[string]*Precedent
	citedBy    map[string][]string
	now        func() time.Time
}

// NewStore returns an empty precedent store.
func NewStore() *Store {
	return &Store{
		precedents: make(map[string]*Precedent),
		citedBy:    make(map[string][]string),
		now:        time.Now,
	}
}

// CreatePrecedent allocates a PREC-prefixed precedent from a decided
// verdict.
func (s *Store) CreatePrecedent(verdict *Verdict, title string, facts []string, summary string, applicability ApplicabilityDescriptor) *Precedent {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Precedent{
		ID:              "PREC-" + uuid.NewString(),
		Title:           title,
		RulesInvolved:   append([]string(nil), verdict.AppliedRuleIDs...),
		VerdictSnapshot: verdict,
		KeyFacts:        facts,
		Summary:         summary,
		Applicability:   applicability,
		CitationCount:   0,
		CreatedAt:       s.now(),
	}
	s.precedents[p.ID] = p
	return p
}

// IsValid reports whether id names a precedent that has not been
// overruled. An unknown id is not valid.
func (s *Store) IsValid(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.precedents[id]
	return ok && !p.Metadata.Overruled
}

// FindSimilarPrecedents implements spec.md §4.4's scoring rule: category
// mismatch scores 0, otherwise a 0.4 base plus weighted Jaccard overlap
// of key facts, rule-involvement overlap, and a severity-closeness
// bonus. Overruled precedents are excluded. Results are sorted by score
// descending, gated by minSimilarityScore, and truncated to limit.
func (s *Store) FindSimilarPrecedents(category string, severity Severity, keyFacts []string, rulesInvolved []string, minSimilarityScore float64, limit int) []ScoredPrecedent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ScoredPrecedent
	for _, p := range s.precedents {
		if p.Metadata.Overruled {
			continue
		}
		if p.Applicability.Category != category {
			continue
		}
		score, factors := scorePrecedent(p, severity, keyFacts, rulesInvolved)
		if score < minSimilarityScore {
			continue
		}
		results = append(results, ScoredPrecedent{Precedent: p, Score: score, MatchingFactors: factors})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func scorePrecedent(p *Precedent, severity Severity, keyFacts, rulesInvolved []string) (float64, []string) {
	var factors []string
	score := 0.4
	factors = append(factors, "category match")

	jaccard := jaccardSimilarity(p.KeyFacts, keyFacts)
	score += 0.3 * jaccard
	if jaccard > 0 {
		factors = append(factors, "key facts overlap")
	}

	overlap := overlapFraction(p.RulesInvolved, rulesInvolved)
	score += 0.2 * overlap
	if overlap > 0 {
		factors = append(factors, "rules involved overlap")
	}

	switch {
	case p.Applicability.Severity == severity:
		score += 0.1
		factors = append(factors, "severity match")
	case adjacentSeverity(p.Applicability.Severity, severity):
		score += 0.05
		factors = append(factors, "adjacent severity")
	}

	return score, factors
}

// jaccardSimilarity is |A∩B| / |A∪B| over two string sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)
	intersection := 0
	union := make(map[string]struct{}, len(setA)+len(setB))
	for k := range setA {
		union[k] = struct{}{}
		if _, ok := setB[k]; ok {
			intersection++
		}
	}
	for k := range setB {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// overlapFraction is |A∩B| / |B| (fraction of the session's rules the
// precedent also involved).
func overlapFraction(precedentRules, sessionRules []string) float64 {
	if len(sessionRules) == 0 {
		return 0
	}
	setP := toSet(precedentRules)
	matched := 0
	for _, r := range sessionRules {
		if _, ok := setP[r]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(sessionRules))
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func adjacentSeverity(a, b Severity) bool {
	ra, aok := severityRank[a]
	rb, bok := severityRank[b]
	if !aok || !bok {
		return false
	}
	diff := ra - rb
	return diff == 1 || diff == -1
}

// AssessApplicability implements spec.md §4.4's assessApplicability:
// overruled or category-mismatched precedents are never applicable;
// otherwise a base confidence of 0.8, +0.15 on exact severity match,
// -0.15 (with a reasoning note) on severity mismatch.
func (s *Store) AssessApplicability(p *Precedent, category string, severity Severity, conditions []string) Applicability {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p.Metadata.Overruled {
		return Applicability{Applicable: false, Confidence: 0, Reasoning: "precedent has been overruled"}
	}
	if p.Applicability.Category != category {
		return Applicability{Applicable: false, Confidence: 0, Reasoning: "category mismatch"}
	}

	// The adjustments are constant expressions so the results are exactly
	// 0.95 and 0.65; adding 0.15 to a 0.8 variable at run time yields
	// 0.9500000000000001.
	confidence := 0.8
	reasoning := "category match"
	if p.Applicability.Severity == severity {
		confidence = 0.8 + 0.15
		reasoning = "category and severity match"
	} else {
		confidence = 0.8 - 0.15
		reasoning = "Severity mismatch"
	}

	return Applicability{Applicable: true, Confidence: confidence, Reasoning: reasoning}
}

// CitePrecedent records citingID against id and increments id's
// citation count. It reports ok=false without recording anything new
// to the precedent map when id is unknown, but still appends the
// citation to the ledger per DESIGN.md's eventual-consistency decision
// — callers that need to know whether the citation resolves can check
// the returned ok.
func (s *Store) CitePrecedent(id, citingID string) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.citedBy[id] = append(s.citedBy[id], citingID)

	p, known := s.precedents[id]
	if !known {
		return false
	}
	p.CitationCount++
	return true
}

// GetCitingPrecedents returns every id ever recorded as citing id,
// regardless of whether id currently resolves to a known precedent.
func (s *Store) GetCitingPrecedents(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.citedBy[id]...)
}

// OverrulePrecedent marks id as overruled. After this call IsValid(id)
// is false and FindSimilarPrecedents never returns id.
func (s *Store) OverrulePrecedent(id, byID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.precedents[id]
	if !ok {
		return false
	}
	p.Metadata = PrecedentMetadata{Overruled: true, OverruledBy: byID, OverruledReason: reason}
	return true
}
