package puzzle

import (
	"strings"
)

// CoherenceThreshold is the minimum score a claim needs to be bridged.
const CoherenceThreshold = 70

// Claim is a caller-supplied interpretation of the enharmonic gap.
// It is evaluated once and discarded.
type Claim struct {
	Context      string `json:"context"`
	IntervalName string `json:"interval_name"`
	Resolution   string `json:"resolution"`
	Salt         uint64 `json:"salt"`
}

// Breakdown reports which scoring rules fired for a claim.
type Breakdown struct {
	ContextRule      string `json:"context_rule,omitempty"`
	ContextPoints    int    `json:"context_points"`
	ResolutionRule   string `json:"resolution_rule,omitempty"`
	ResolutionPoints int    `json:"resolution_points"`
	EffortPoints     int    `json:"effort_points"`
	Total            uint8  `json:"total"`
}

// scoringRule awards points when matches holds for the lowercased fields.
type scoringRule struct {
	name    string
	points  int
	matches func(context, interval, resolution string) bool
}

// contextRules are evaluated in order; the first match wins.
var contextRules = []scoringRule{
	{
		name:   "harmonic-minor-augmented",
		points: 40,
		matches: func(c, i, _ string) bool {
			return strings.Contains(c, "harmonic minor") && strings.Contains(i, "augmented")
		},
	},
	{
		name:   "minor-key-minor-interval",
		points: 40,
		matches: func(c, i, _ string) bool {
			return containsAny(c, "natural minor", "major", "c minor") && strings.Contains(i, "minor")
		},
	},
	{
		name:   "superposition-janus",
		points: 50,
		matches: func(c, i, _ string) bool {
			return containsAny(c, "both", "superposition", "schrodinger") && containsAny(i, "both", "janus")
		},
	},
	{
		name:   "interval-named",
		points: 20,
		matches: func(_, i, _ string) bool {
			return containsAny(i, "augmented", "minor")
		},
	},
}

// resolutionRules are evaluated in order; the first match wins.
// A lone "e" counts for the augmented second (D# resolving to E).
var resolutionRules = []scoringRule{
	{
		name:   "augmented-resolves-outward",
		points: 30,
		matches: func(_, i, r string) bool {
			return strings.Contains(i, "augmented") && containsAny(r, "up", "outward", "e")
		},
	},
	{
		name:   "minor-resolves-stable",
		points: 30,
		matches: func(_, i, r string) bool {
			return strings.Contains(i, "minor") && containsAny(r, "stable", "step", "triad")
		},
	},
	{
		name:   "janus-context-shift",
		points: 30,
		matches: func(_, i, r string) bool {
			return containsAny(i, "janus", "both") && containsAny(r, "shift", "context", "transform")
		},
	},
}

const (
	effortPoints    = 10
	effortMinLength = 5
)

// Evaluate scores a claim and reports which rules contributed.
func Evaluate(c Claim) Breakdown {
	ctx := strings.ToLower(c.Context)
	interval := strings.ToLower(c.IntervalName)
	res := strings.ToLower(c.Resolution)

	var b Breakdown
	if r, ok := firstMatch(contextRules, ctx, interval, res); ok {
		b.ContextRule, b.ContextPoints = r.name, r.points
	}
	if r, ok := firstMatch(resolutionRules, ctx, interval, res); ok {
		b.ResolutionRule, b.ResolutionPoints = r.name, r.points
	}

	// Effort is the byte length of the raw text, so "↑" counts as three.
	if len(c.Context) > effortMinLength && len(c.Resolution) > effortMinLength {
		b.EffortPoints = effortPoints
	}

	b.Total = clampScore(b.ContextPoints + b.ResolutionPoints + b.EffortPoints)
	return b
}

// Score returns the coherence score of a claim in [0,100].
func Score(c Claim) uint8 {
	return Evaluate(c).Total
}

func firstMatch(rules []scoringRule, c, i, r string) (scoringRule, bool) {
	for _, rule := range rules {
		if rule.matches(c, i, r) {
			return rule, true
		}
	}
	return scoringRule{}, false
}

func clampScore(n int) uint8 {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return uint8(n)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
