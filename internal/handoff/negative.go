package handoff

import "strings"

// negativePhrases mark an assistant reply as hedging or refusing. The chat
// core offers a human handoff when replies keep matching.
var negativePhrases = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i'm sorry, but",
	"i am sorry, but",
	"unfortunately",
	"i cannot",
	"i can't",
	"i'm unable",
	"i am unable",
	"unable to help",
	"not able to",
	"i don't have",
	"i do not have",
	"no information",
	"don't have information",
	"beyond my",
	"outside my",
	"contact support",
	"speak to a human",
	"talk to a human",
}

// IsNegativeAIResult reports whether text contains one of the hedging or
// refusal phrases. Matching is a case-insensitive substring test.
func IsNegativeAIResult(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, phrase := range negativePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
