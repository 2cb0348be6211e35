// Package facts accumulates trait/value observations harvested from
// completed jobs within a single run. A Store is owned exclusively by
// one executor and is append-only: values are never removed or mutated,
// only exported.
package facts

import (
	"regexp"
	"strings"
)

// Fact is one discovered observation, e.g. {host.ip, 10.0.0.4}.
type Fact struct {
	Trait string `json:"trait"`
	Value string `json:"value"`
}

// Store groups values by trait, preserving both the order in which
// traits were first seen and the order of values within each trait.
// Duplicates are kept; later steps may legitimately rediscover the
// same value.
type Store struct {
	order  []string
	values map[string][]string
}

func NewStore() *Store {
	return &Store{values: make(map[string][]string)}
}

// Record appends each fact's value under its trait key. Facts with an
// empty trait or value are dropped.
func (s *Store) Record(found []Fact) {
	for _, f := range found {
		if f.Trait == "" || f.Value == "" {
			continue
		}
		if _, seen := s.values[f.Trait]; !seen {
			s.order = append(s.order, f.Trait)
		}
		s.values[f.Trait] = append(s.values[f.Trait], f.Value)
	}
}

// Export flattens the store into {trait, value} pairs. With no filters
// every value of every trait is returned in first-recorded order. With
// filters, each pattern is applied in turn and every matching trait
// contributes all its values; a trait matched by two patterns appears
// once per pattern. The store is not modified.
func (s *Store) Export(filters []string) []Fact {
	if len(filters) == 0 {
		out := make([]Fact, 0, s.Values())
		for _, trait := range s.order {
			for _, val := range s.values[trait] {
				out = append(out, Fact{Trait: trait, Value: val})
			}
		}
		return out
	}

	var out []Fact
	for _, pattern := range filters {
		for _, trait := range s.order {
			if !matchesTrait(pattern, trait) {
				continue
			}
			for _, val := range s.values[trait] {
				out = append(out, Fact{Trait: trait, Value: val})
			}
		}
	}
	return out
}

// Values returns the total number of recorded values across all traits.
func (s *Store) Values() int {
	n := 0
	for _, vals := range s.values {
		n += len(vals)
	}
	return n
}

// Traits returns the number of distinct traits recorded.
func (s *Store) Traits() int {
	return len(s.order)
}

// matchesTrait checks a trait name against a glob-style pattern where
// "." is literal and "*" matches zero or more characters. The match is
// anchored: "host.*" matches "host.ip" but not "ghost.ip".
func matchesTrait(pattern, trait string) bool {
	quoted := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `.*`)
	ok, err := regexp.MatchString("^"+quoted+"$", trait)
	if err != nil {
		return false
	}
	return ok
}
