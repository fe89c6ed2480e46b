// Package summarize provides the optional summary capability injected into
// the store. A store without a summarizer uses Nop and keeps full content.
package summarize

import (
	"context"
	"strings"
)

// DefaultMinTokens is the content size below which no summary is kept.
const DefaultMinTokens = 30

// Summarizer compresses content. ok is false when no summary is produced.
type Summarizer interface {
	Summarize(ctx context.Context, content string, level int) (summary string, ok bool, err error)
}

// Nop never produces a summary.
type Nop struct{}

// Summarize implements Summarizer.
func (Nop) Summarize(context.Context, string, int) (string, bool, error) {
	return "", false, nil
}

// TokenCounter measures content length in tokens.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// Func adapts a plain function to Summarizer.
type Func func(ctx context.Context, content string, level int) (string, bool, error)

// Summarize implements Summarizer.
func (f Func) Summarize(ctx context.Context, content string, level int) (string, bool, error) {
	return f(ctx, content, level)
}
