package reconcile

import (
	"slices"
	"strings"
)

// Rule rewrites one suffix/postfix combination. Counts limits the rule to
// acquisitions with that many sibling images; an empty Counts applies to
// every count.
type Rule struct {
	Pattern     string
	Replacement string
	Counts      []int
}

// fieldmapRules is applied top to bottom on every token of a fieldmap
// acquisition. Order matters: later rules see the output of earlier ones.
var fieldmapRules = []Rule{
	{Pattern: "_magnitude1a", Replacement: "_magnitude2"},
	{Pattern: "_magnitude1_pha", Replacement: "_phase2"},
	{Pattern: "_magnitude1_e1", Replacement: "_magnitude1"},
	{Pattern: "_magnitude1_e2", Replacement: "_magnitude2"},
	{Pattern: "_magnitude2_e1", Replacement: "_magnitude1"},
	{Pattern: "_magnitude2_e2", Replacement: "_magnitude2"},
	{Pattern: "_magnitude1_ph", Replacement: "_phasediff", Counts: []int{2, 3}},
	{Pattern: "_magnitude2_ph", Replacement: "_phasediff", Counts: []int{2, 3}},
	{Pattern: "_phasediff_e1", Replacement: "_phasediff"},
	{Pattern: "_phasediff_e2", Replacement: "_phasediff"},
	{Pattern: "_phasediff_ph", Replacement: "_phasediff"},
	{Pattern: "_magnitude1_ph", Replacement: "_phase1"},
	{Pattern: "_magnitude2_ph", Replacement: "_phase2"},
	{Pattern: "_phase1_e1", Replacement: "_phase1"},
	{Pattern: "_phase1_e2", Replacement: "_phase2"},
	{Pattern: "_phase2_e1", Replacement: "_phase1"},
	{Pattern: "_phase2_e2", Replacement: "_phase2"},
	{Pattern: "_phase1_ph", Replacement: "_phase1"},
	{Pattern: "_phase2_ph", Replacement: "_phase2"},
	{Pattern: "_magnitude_e1", Replacement: "_magnitude"},
	{Pattern: "_fieldmap_e1", Replacement: "_magnitude", Counts: []int{2}},
	{Pattern: "_fieldmap_e1", Replacement: "_fieldmap"},
	{Pattern: "_magnitude_ph", Replacement: "_fieldmap"},
	{Pattern: "_fieldmap_ph", Replacement: "_fieldmap"},
}

// KnownSiblingCounts are the acquisition sizes the rewrite table was written for.
var KnownSiblingCounts = []int{1, 2, 3, 4}

// FieldmapRules returns the rewrite chain for an acquisition with count
// sibling images. Unknown counts get only the unconditional rules.
func FieldmapRules(count int) []Rule {
	rules := make([]Rule, 0, len(fieldmapRules))
	for _, rule := range fieldmapRules {
		if len(rule.Counts) == 0 || slices.Contains(rule.Counts, count) {
			rules = append(rules, rule)
		}
	}
	return rules
}

// RewriteFieldmap runs the chain for count over name.
func RewriteFieldmap(name string, count int) string {
	for _, rule := range FieldmapRules(count) {
		name = strings.ReplaceAll(name, rule.Pattern, rule.Replacement)
	}
	return name
}
