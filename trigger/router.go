package trigger

import "sort"

const REASON_EXACT_PHRASE_MATCH string = "exact_phrase_match"
const REASON_STRICT_REQUIRES_EXACT string = "strict_requires_exact"
const REASON_THRESHOLD_MET string = "activation_threshold_met"
const REASON_THRESHOLD_NOT_MET string = "activation_threshold_not_met"

const DEFAULT_MIN_CONFIDENCE float64 = 0.6

// Candidate is a chat trigger registered for a published workflow version.
// Disabled candidates are retained for audit but excluded from evaluation.
type Candidate struct {
	WorkflowId      string   `json:"workflowId"`
	WorkflowVersion int      `json:"workflowVersion"`
	TriggerId       string   `json:"triggerId"`
	Phrases         []string `json:"phrases"`
	StrictMatch     bool     `json:"strictMatch"`
	Enabled         bool     `json:"enabled"`
}

type EvaluationResult struct {
	WorkflowId      string             `json:"workflowId"`
	WorkflowVersion int                `json:"workflowVersion"`
	TriggerId       string             `json:"triggerId"`
	Confidence      float64            `json:"confidence"`
	ShouldActivate  bool               `json:"shouldActivate"`
	ReasonCodes     []string           `json:"reasonCodes"`
	Breakdown       map[string]float64 `json:"breakdown"`
}

type Options struct {
	// MinConfidence overrides the activation threshold for non strict
	// candidates. Zero means DEFAULT_MIN_CONFIDENCE.
	MinConfidence float64
	// MaxResults truncates the sorted result list when > 0.
	MaxResults int
}

// EvaluateChatTriggers scores a chat message against every enabled candidate
// and returns results ordered by confidence descending, ties broken by
// candidate declaration order. It is a pure function: identical inputs yield
// identical output.
func EvaluateChatTriggers(message string, candidates []Candidate, options *Options) []EvaluationResult {
	minConfidence := DEFAULT_MIN_CONFIDENCE
	maxResults := 0
	if options != nil {
		if options.MinConfidence > 0 {
			minConfidence = options.MinConfidence
		}
		maxResults = options.MaxResults
	}
	normMessage := normalize(message)
	results := make([]EvaluationResult, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Enabled {
			continue
		}
		results = append(results, evaluateCandidate(normMessage, candidate, minConfidence))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

func evaluateCandidate(normMessage string, candidate Candidate, minConfidence float64) EvaluationResult {
	best := phraseScore{}
	for _, phrase := range candidate.Phrases {
		score := scorePhrase(normMessage, normalize(phrase))
		if score.confidence > best.confidence || (score.exact && !best.exact) {
			best = score
		}
	}
	result := EvaluationResult{
		WorkflowId:      candidate.WorkflowId,
		WorkflowVersion: candidate.WorkflowVersion,
		TriggerId:       candidate.TriggerId,
		Confidence:      best.confidence,
		Breakdown: map[string]float64{
			"token_coverage": best.tokenCoverage,
			"substring":      best.substring,
			"token_order":    best.orderRatio,
		},
	}
	if best.exact {
		result.ReasonCodes = append(result.ReasonCodes, REASON_EXACT_PHRASE_MATCH)
	}
	if candidate.StrictMatch && !best.exact {
		result.ShouldActivate = false
		result.ReasonCodes = append(result.ReasonCodes, REASON_STRICT_REQUIRES_EXACT)
		return result
	}
	if best.confidence >= minConfidence {
		result.ShouldActivate = true
		result.ReasonCodes = append(result.ReasonCodes, REASON_THRESHOLD_MET)
	} else {
		result.ReasonCodes = append(result.ReasonCodes, REASON_THRESHOLD_NOT_MET)
	}
	return result
}
