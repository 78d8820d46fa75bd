package chunker

import "strings"

// Tokenizer counts tokens the way the downstream embedding model would.
type Tokenizer interface {
	CountTokens(text string) int
}

// WordTokenizer approximates token counts from whitespace-separated words.
type WordTokenizer struct{}

func (WordTokenizer) CountTokens(text string) int { return EstimateTokens(text) }

// EstimateTokens gives a rough token count of about 1.33 tokens per word.
// This is intentionally simple, exact tokenization is not required for chunking.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}
