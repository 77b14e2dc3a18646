package puzzle

import (
	"fmt"
	"strings"
)

// Pathway is one of the three ways the gap can be bridged.
type Pathway struct {
	Tag    Tag    `json:"tag"`
	Label  string `json:"label"`
	Reward uint64 `json:"reward"`
}

var (
	PathwayA = Pathway{Tag: TagA, Label: "Pathway A: Augmented Second", Reward: 65}
	PathwayB = Pathway{Tag: TagB, Label: "Pathway B: Minor Third", Reward: 65}
	PathwayC = Pathway{Tag: TagC, Label: "Pathway C: Janus Mode", Reward: 165}
)

// pathwayRules are evaluated in order against the lowercased interval name.
// "augmented" wins over "both", and a claim saying "both" never lands on B.
var pathwayRules = []struct {
	pathway Pathway
	matches func(interval string) bool
}{
	{PathwayA, func(i string) bool { return strings.Contains(i, "augmented") }},
	{PathwayB, func(i string) bool { return strings.Contains(i, "minor") && !strings.Contains(i, "both") }},
	{PathwayC, func(i string) bool { return containsAny(i, "both", "superposition", "janus") }},
}

// Classify maps an interval name to its pathway.
func Classify(intervalName string) (Pathway, error) {
	interval := strings.ToLower(intervalName)
	for _, rule := range pathwayRules {
		if rule.matches(interval) {
			return rule.pathway, nil
		}
	}
	return Pathway{}, fmt.Errorf("%w: %q", ErrUnrecognizedInterpretation, intervalName)
}

// Pathways returns the pathways in priority order.
func Pathways() []Pathway {
	out := make([]Pathway, 0, len(pathwayRules))
	for _, rule := range pathwayRules {
		out = append(out, rule.pathway)
	}
	return out
}
