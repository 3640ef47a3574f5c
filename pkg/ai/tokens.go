package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(tokenEncoding)
	})
	return enc, encErr
}

// CountTokens returns the token count of text. If the encoding is unavailable
// it falls back to a four characters per token estimate.
func CountTokens(text string) int {
	e, err := encoding()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// TruncateToTokens cuts text to at most maxTokens tokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	// A token is at least one byte.
	if len(text) <= maxTokens {
		return text
	}
	e, err := encoding()
	if err != nil {
		if limit := maxTokens * 4; len(text) > limit {
			return text[:limit]
		}
		return text
	}
	toks := e.Encode(text, nil, nil)
	if len(toks) <= maxTokens {
		return text
	}
	return e.Decode(toks[:maxTokens])
}

// FitTokenBudget keeps items in order until adding the next one would exceed
// maxTokens. sep is counted between items.
func FitTokenBudget(items []string, sep string, maxTokens int) []string {
	total := 0
	for _, it := range items {
		total += len(it) + len(sep)
	}
	if total <= maxTokens {
		return append([]string(nil), items...)
	}

	out := make([]string, 0, len(items))
	used := 0
	sepTokens := CountTokens(sep)
	for i, it := range items {
		n := CountTokens(it)
		if i > 0 {
			n += sepTokens
		}
		if used+n > maxTokens {
			break
		}
		used += n
		out = append(out, it)
	}
	return out
}
