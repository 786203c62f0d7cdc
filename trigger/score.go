package trigger

import "strings"

// normalize lowercases, trims and collapses whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

type phraseScore struct {
	confidence    float64
	exact         bool
	tokenCoverage float64
	substring     float64
	orderRatio    float64
}

// scorePhrase rates how well a candidate phrase matches a message. Exact
// equality scores 1.0. Anything else combines token coverage, contiguous
// substring containment and token order agreement, capped below 1.0 so only
// an exact match can reach full confidence. The combination is monotonic in
// token coverage and weights a phrase fully contained in the message above
// scattered token overlap.
func scorePhrase(normMessage string, normPhrase string) phraseScore {
	if len(normPhrase) == 0 {
		return phraseScore{}
	}
	if normMessage == normPhrase {
		return phraseScore{confidence: 1.0, exact: true, tokenCoverage: 1.0, substring: 1.0, orderRatio: 1.0}
	}
	phraseTokens := strings.Fields(normPhrase)
	messageTokens := strings.Fields(normMessage)
	if len(phraseTokens) == 0 || len(messageTokens) == 0 {
		return phraseScore{}
	}
	messageSet := make(map[string]bool, len(messageTokens))
	for _, tok := range messageTokens {
		messageSet[tok] = true
	}
	matched := 0
	for _, tok := range phraseTokens {
		if messageSet[tok] {
			matched++
		}
	}
	coverage := float64(matched) / float64(len(phraseTokens))

	substring := 0.0
	if strings.Contains(" "+normMessage+" ", " "+normPhrase+" ") {
		substring = 1.0
	} else {
		substring = float64(longestContiguousRun(phraseTokens, messageTokens)) / float64(len(phraseTokens))
	}

	order := float64(longestOrderedSubsequence(phraseTokens, messageTokens)) / float64(len(phraseTokens))

	confidence := 0.45*coverage + 0.35*substring + 0.20*order
	if confidence > 0.99 {
		confidence = 0.99
	}
	return phraseScore{
		confidence:    confidence,
		tokenCoverage: coverage,
		substring:     substring,
		orderRatio:    order,
	}
}

// longestContiguousRun returns the length of the longest run of phrase
// tokens appearing consecutively, in order, inside the message tokens.
func longestContiguousRun(phrase []string, message []string) int {
	best := 0
	for i := range message {
		run := 0
		for run < len(phrase) && i+run < len(message) && message[i+run] == phrase[run] {
			run++
		}
		if run > best {
			best = run
		}
	}
	return best
}

// longestOrderedSubsequence counts how many phrase tokens appear in the
// message in the same relative order, gaps allowed.
func longestOrderedSubsequence(phrase []string, message []string) int {
	count := 0
	pos := 0
	for _, tok := range phrase {
		for i := pos; i < len(message); i++ {
			if message[i] == tok {
				count++
				pos = i + 1
				break
			}
		}
	}
	return count
}
