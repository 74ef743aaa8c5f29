// Package hint detects likely questions in finalized transcript lines and
// produces answer-hint text through an OpenAI-compatible completion service.
package hint

import "strings"

var englishInterrogatives = []string{
	"what",
	"why",
	"how",
	"when",
	"where",
	"which",
	"who",
	"could you",
	"would you",
	"can you",
	"do you",
	"did you",
	"are you",
	"is there",
}

var chineseInterrogatives = []string{
	"吗",
	"呢",
	"什么",
	"为什么",
	"怎么",
	"怎样",
	"如何",
	"多少",
	"哪",
	"几",
	"能否",
	"是否",
}

// LooksLikeQuestion applies the keyword/pattern test used to decide whether
// a finalized transcript line should trigger hint generation. It is
// deliberately cheap; false positives only cost one completion call.
func LooksLikeQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if strings.ContainsAny(trimmed, "?？") {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range englishInterrogatives {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	for _, kw := range chineseInterrogatives {
		if strings.Contains(trimmed, kw) {
			return true
		}
	}

	return false
}
