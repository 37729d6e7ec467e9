// Package token estimates token counts from raw text length.
//
// Estimation is a fallback: when the caller already has an exact count from
// the model API it supplies that instead, and the estimator is never
// consulted.
package token

import "unicode/utf8"

// DefaultCharsPerToken is the ratio used when the session policy does not
// override it. Four characters per token is a reasonable average for English
// prose against most tokenizers.
const DefaultCharsPerToken = 4.0

// Estimator converts text length to an approximate token count
type Estimator struct {
	charsPerToken float64
}

// NewEstimator creates an estimator with the given chars-per-token ratio.
// Non-positive ratios fall back to the default.
func NewEstimator(charsPerToken float64) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &Estimator{charsPerToken: charsPerToken}
}

// Estimate returns max(1, floor(chars/charsPerToken)), counting characters
// rather than bytes so multibyte text is not over-charged. Deterministic, no
// side effects. Every message costs at least one token so that empty-ish
// content still counts against the budget.
func (e *Estimator) Estimate(text string) int {
	n := int(float64(utf8.RuneCountInString(text)) / e.charsPerToken)
	if n < 1 {
		return 1
	}
	return n
}
