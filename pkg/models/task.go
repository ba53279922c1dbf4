package models

import "strings"

// SearchTask is one input row: the terms to search for and the keywords to
// look for in their results.
type SearchTask struct {
	PrimaryTerm    string   `json:"primaryTerm"`
	AuxiliaryTerms []string `json:"auxiliaryTerms,omitempty"`
	TargetKeywords []string `json:"targetKeywords"`
}

// Terms returns every search term of the task in order, primary first.
func (t SearchTask) Terms() []string {
	terms := make([]string, 0, 1+len(t.AuxiliaryTerms))
	terms = append(terms, t.PrimaryTerm)
	terms = append(terms, t.AuxiliaryTerms...)
	return terms
}

// Valid reports whether the task has a primary term and at least one
// target keyword.
func (t SearchTask) Valid() bool {
	if strings.TrimSpace(t.PrimaryTerm) == "" {
		return false
	}
	for _, k := range t.TargetKeywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}
