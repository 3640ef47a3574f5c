package ai

import (
	"reflect"
	"strings"
	"testing"
)

func TestCountTokens(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
	short := CountTokens("graph")
	long := CountTokens(strings.Repeat("knowledge graph ", 50))
	if short < 1 || long <= short {
		t.Fatalf("expected longer text to count more tokens, got %d and %d", short, long)
	}
}

func TestTruncateToTokens(t *testing.T) {
	if got := TruncateToTokens("anything", 0); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := TruncateToTokens("short", 10); got != "short" {
		t.Fatalf("expected short text unchanged, got %q", got)
	}

	text := strings.Repeat("entities and relationships ", 100)
	got := TruncateToTokens(text, 20)
	if len(got) >= len(text) {
		t.Fatalf("expected text to be truncated")
	}
	if !strings.HasPrefix(text, got) {
		t.Fatalf("expected a prefix of the input, got %q", got)
	}
	if n := CountTokens(got); n > 20 {
		t.Fatalf("expected at most 20 tokens, got %d", n)
	}
}

func TestFitTokenBudget(t *testing.T) {
	items := []string{"alpha", "beta", "gamma"}
	if got := FitTokenBudget(items, "\n", 0); len(got) != 0 {
		t.Fatalf("expected empty result for zero budget, got %v", got)
	}
	if got := FitTokenBudget(items, "\n", 1000); !reflect.DeepEqual(got, items) {
		t.Fatalf("expected all items, got %v", got)
	}

	long := strings.Repeat("a rather long relationship description ", 20)
	budget := CountTokens(long)
	got := FitTokenBudget([]string{long, long, "tail"}, "\n", budget)
	if len(got) != 1 || got[0] != long {
		t.Fatalf("expected only the first item to fit, got %d items", len(got))
	}

	if got := FitTokenBudget([]string{long}, "\n", 1); len(got) != 0 {
		t.Fatalf("expected nothing to fit, got %d items", len(got))
	}
}
