package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func candidate(id string, strict bool, phrases ...string) Candidate {
	return Candidate{
		WorkflowId:      "wf-" + id,
		WorkflowVersion: 1,
		TriggerId:       id,
		Phrases:         phrases,
		StrictMatch:     strict,
		Enabled:         true,
	}
}

func TestExactPhraseMatch(t *testing.T) {
	results := EvaluateChatTriggers("deploy release to production now",
		[]Candidate{candidate("t1", true, "deploy release to production now")}, nil)
	require.Len(t, results, 1)
	require.Equal(t, 1.0, results[0].Confidence)
	require.True(t, results[0].ShouldActivate)
	require.Contains(t, results[0].ReasonCodes, REASON_EXACT_PHRASE_MATCH)
	require.Contains(t, results[0].ReasonCodes, REASON_THRESHOLD_MET)
}

func TestExactMatchIgnoresCaseAndWhitespace(t *testing.T) {
	results := EvaluateChatTriggers("  Deploy   Release ",
		[]Candidate{candidate("t1", false, "deploy release")}, nil)
	require.Len(t, results, 1)
	require.Equal(t, 1.0, results[0].Confidence)
	require.True(t, results[0].ShouldActivate)
}

func TestStrictCandidateNeverActivatesOnPartialMatch(t *testing.T) {
	results := EvaluateChatTriggers("please deploy release to production now thanks",
		[]Candidate{candidate("t1", true, "deploy release to production now")}, nil)
	require.Len(t, results, 1)
	require.Greater(t, results[0].Confidence, 0.5)
	require.False(t, results[0].ShouldActivate)
	require.Contains(t, results[0].ReasonCodes, REASON_STRICT_REQUIRES_EXACT)
}

func TestNonStrictThreshold(t *testing.T) {
	candidates := []Candidate{candidate("t1", false, "deploy release to production")}
	activated := EvaluateChatTriggers("please deploy release to production right away", candidates, nil)
	require.True(t, activated[0].ShouldActivate)
	require.Contains(t, activated[0].ReasonCodes, REASON_THRESHOLD_MET)

	missed := EvaluateChatTriggers("what is the weather like", candidates, nil)
	require.False(t, missed[0].ShouldActivate)
	require.Contains(t, missed[0].ReasonCodes, REASON_THRESHOLD_NOT_MET)

	// threshold overridable per call
	strictOpts := &Options{MinConfidence: 0.999}
	require.False(t, EvaluateChatTriggers("please deploy release to production right away", candidates, strictOpts)[0].ShouldActivate)
}

func TestHigherOverlapRanksFirst(t *testing.T) {
	candidates := []Candidate{
		candidate("low", false, "archive old reports"),
		candidate("high", false, "deploy release to production"),
	}
	results := EvaluateChatTriggers("can you deploy release to production please", candidates, nil)
	require.Len(t, results, 2)
	require.Equal(t, "high", results[0].TriggerId)
	require.Greater(t, results[0].Confidence, results[1].Confidence)
}

func TestTieBreakByDeclarationOrder(t *testing.T) {
	candidates := []Candidate{
		candidate("first", false, "run nightly sync"),
		candidate("second", false, "run nightly sync"),
	}
	results := EvaluateChatTriggers("run nightly sync", candidates, nil)
	require.Equal(t, "first", results[0].TriggerId)
	require.Equal(t, "second", results[1].TriggerId)
}

func TestDisabledCandidatesExcluded(t *testing.T) {
	disabled := candidate("t1", false, "run nightly sync")
	disabled.Enabled = false
	results := EvaluateChatTriggers("run nightly sync", []Candidate{disabled}, nil)
	require.Empty(t, results)
}

func TestMaxResultsTruncatesAfterSorting(t *testing.T) {
	candidates := []Candidate{
		candidate("low", false, "archive old reports"),
		candidate("high", false, "deploy release to production"),
	}
	results := EvaluateChatTriggers("deploy release to production", candidates, &Options{MaxResults: 1})
	require.Len(t, results, 1)
	require.Equal(t, "high", results[0].TriggerId)
}

func TestEvaluationIsDeterministic(t *testing.T) {
	candidates := []Candidate{
		candidate("a", false, "deploy release", "ship it"),
		candidate("b", true, "archive reports"),
		candidate("c", false, "summarize the meeting notes"),
	}
	message := "please ship it and archive reports after"
	first := EvaluateChatTriggers(message, candidates, &Options{MinConfidence: 0.3})
	for i := 0; i < 10; i++ {
		require.Equal(t, first, EvaluateChatTriggers(message, candidates, &Options{MinConfidence: 0.3}))
	}
}

func TestSubstringContainmentBeatsScatteredOverlap(t *testing.T) {
	contained := scorePhrase(normalize("please deploy release now"), normalize("deploy release"))
	scattered := scorePhrase(normalize("release the hounds then deploy"), normalize("deploy release"))
	require.Greater(t, contained.confidence, scattered.confidence)
	require.Less(t, contained.confidence, 1.0)
}
