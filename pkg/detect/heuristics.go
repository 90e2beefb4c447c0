package detect

import "strings"

// HeuristicCategory is the category attached to the term-weighting finding.
const HeuristicCategory = "heuristic_term_analysis"

// termWeights is the suspicious-term table for the heuristic phase. Each
// term contributes its weight once when present (presence test, not
// frequency-weighted). Multi-word entries are matched as substrings of the
// lowercased payload; single words must match a whole token.
var termWeights = map[string]float64{
	// Instruction manipulation
	"ignore":       0.8,
	"disregard":    0.7,
	"forget":       0.6,
	"override":     0.6,
	"bypass":       0.7,
	"previous":     0.6,
	"instructions": 0.5,
	"from now on":  0.7,
	"new rules":    0.7,

	// Persona / role manipulation
	"pretend":        0.7,
	"roleplay":       0.5,
	"jailbreak":      0.9,
	"unrestricted":   0.7,
	"unfiltered":     0.7,
	"developer mode": 0.8,
	"act as":         0.5,

	// Extraction
	"reveal":        0.6,
	"system prompt": 0.8,
	"secret":        0.4,
	"credentials":   0.5,
	"exfiltrate":    0.9,

	// Privilege
	"sudo":  0.5,
	"admin": 0.4,
	"root":  0.4,
}

// heuristicTrigger is the summed weight above which the phase emits a
// finding. A single common word never trips it; a cluster of manipulation
// vocabulary does.
const heuristicTrigger = 1.0

// evaluateHeuristics runs the term-weighting model over the payload and
// returns at most one finding.
func evaluateHeuristics(text string) *Finding {
	lower := strings.ToLower(text)

	present := make(map[string]bool)
	for _, tok := range strings.Fields(lower) {
		tok = trimToken(tok)
		if _, ok := termWeights[tok]; ok {
			present[tok] = true
		}
	}
	for term := range termWeights {
		if strings.Contains(term, " ") && strings.Contains(lower, term) {
			present[term] = true
		}
	}

	weight := 0.0
	matched := make([]string, 0, len(present))
	for term := range present {
		weight += termWeights[term]
		matched = append(matched, term)
	}
	if weight <= heuristicTrigger {
		return nil
	}

	confidence := weight / 2
	if confidence > 0.9 {
		confidence = 0.9
	}
	return &Finding{
		Category:    HeuristicCategory,
		Confidence:  confidence,
		Description: "Suspicious manipulation vocabulary detected",
		Metadata: map[string]interface{}{
			"severity":     "medium",
			"terms":        matched,
			"total_weight": weight,
		},
	}
}
