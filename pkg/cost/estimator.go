// Package cost provides token estimation and cost calculation for
// inference requests
package cost

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Estimator approximates token counts from raw text. Providers that
// report usage in their responses take precedence; the estimator only
// fills the gap when usage data is missing.
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator with the common ~4 chars/token heuristic
func NewEstimator() *Estimator {
	return &Estimator{charsPerToken: 4.0}
}

// EstimateTokens approximates the token count of a piece of text
func (e *Estimator) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	chars := utf8.RuneCountInString(text)
	tokens := int(math.Ceil(float64(chars) / e.charsPerToken))
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// EstimatePromptTokens approximates the input token count of a request,
// counting both the system prompt and the user prompt
func (e *Estimator) EstimatePromptTokens(systemPrompt, prompt string) int {
	total := e.EstimateTokens(prompt)
	if systemPrompt != "" {
		total += e.EstimateTokens(systemPrompt)
	}
	return total
}

// EstimateChunkTokens approximates tokens across streamed token fragments
func (e *Estimator) EstimateChunkTokens(fragments []string) int {
	return e.EstimateTokens(strings.Join(fragments, ""))
}
