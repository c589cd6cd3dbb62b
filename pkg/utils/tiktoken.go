// Package utils provides token counting and small filesystem and naming helpers.
package utils

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for model requests.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for the given model. Every provider
// is approximated with the cl100k encoding; the counts feed rate limiting and
// cost estimates, not hard context checks.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateToTokenLimit truncates text to roughly fit limit tokens.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return Truncate(text, charLimit) + "..."
}

// TruncateTailToTokenLimit keeps roughly the last limit tokens of text. Use it
// for tracebacks, whose cause is at the end.
func (tc *TokenCounter) TruncateTailToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	keep := int(float64(len(text)) * ratio * 0.9)
	if keep >= len(text) {
		return text
	}
	start := len(text) - keep
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return "..." + text[start:]
}

var (
	defaultCounter     *TokenCounter //nolint:gochecknoglobals // shared codec
	defaultCounterOnce sync.Once     //nolint:gochecknoglobals
)

// CountTokensSimple counts tokens with a shared counter.
func CountTokensSimple(text string) int {
	return sharedCounter().CountTokens(text)
}

// TruncateTokens keeps the head of text within limit tokens.
func TruncateTokens(text string, limit int) string {
	return sharedCounter().TruncateToTokenLimit(text, limit)
}

// TruncateTailTokens keeps the tail of text within limit tokens.
func TruncateTailTokens(text string, limit int) string {
	return sharedCounter().TruncateTailToTokenLimit(text, limit)
}

func sharedCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter("default")
	})
	return defaultCounter
}

// MediaTokenEstimate is the flat token charge for one image or clip attachment.
const MediaTokenEstimate = 1500
