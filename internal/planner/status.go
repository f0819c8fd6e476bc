package planner

import (
	"strings"
	"time"
)

// StateRule lists the states a work-item type accepts and where illegal
// requests land.
type StateRule struct {
	Legal    []string `yaml:"legal" json:"legal"`
	Fallback string   `yaml:"fallback" json:"fallback"`
}

// StateRules is keyed by upper-case work-item type. Types missing from the
// table get the context-free synonym mapping only.
type StateRules map[string]StateRule

// DefaultStateRules seeds the two types the tracker is known to restrict.
func DefaultStateRules() StateRules {
	return StateRules{
		"TASK": {
			Legal:    []string{"New", "Active", "Closed", "Removed"},
			Fallback: "Active",
		},
		"USER STORY": {
			Legal:    []string{"New", "Approved", "Active", "Resolved", "Closed", "Removed"},
			Fallback: "Active",
		},
	}
}

// Merge returns a copy of r with extra rules layered on top.
func (r StateRules) Merge(extra StateRules) StateRules {
	out := StateRules{}
	for k, v := range r {
		out[strings.ToUpper(k)] = v
	}
	for k, v := range extra {
		out[strings.ToUpper(k)] = v
	}
	return out
}

var statusSynonyms = map[string]string{
	"active":   "Active",
	"new":      "New",
	"approved": "Approved",
	"resolved": "Resolved",
	"closed":   "Closed",
	"removed":  "Removed",
	"blocked":  "Active",
}

// Legalize maps a status token to a state the backend accepts for the given
// work-item type.
func (r StateRules) Legalize(status, workItemType string) string {
	mapped, ok := statusSynonyms[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		mapped = strings.TrimSpace(status)
	}
	rule, ok := r[strings.ToUpper(strings.TrimSpace(workItemType))]
	if !ok {
		return mapped
	}
	for _, legal := range rule.Legal {
		if strings.EqualFold(legal, mapped) {
			return legal
		}
	}
	return rule.Fallback
}

var dateLayouts = []string{"1/2/2006", "1-2-2006"}

// NormalizeDate rewrites US-style dates as YYYY-MM-DD. Anything else,
// including impossible calendar dates, passes through unchanged.
func NormalizeDate(s string) string {
	v := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
