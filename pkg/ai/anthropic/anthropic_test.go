package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
)

type constEmbedder struct{}

func (constEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{1, 2}, nil
}

func TestNewGraphAnthropicClient_RequiresKey(t *testing.T) {
	if _, err := NewGraphAnthropicClient(NewGraphAnthropicClientParams{Model: "claude"}); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestGenerateEmbedding_Delegates(t *testing.T) {
	c, err := NewGraphAnthropicClient(NewGraphAnthropicClientParams{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := c.GenerateEmbedding(context.Background(), []byte("x")); !errors.Is(err, ErrNoEmbedder) {
		t.Fatalf("expected ErrNoEmbedder, got %v", err)
	}

	c, _ = NewGraphAnthropicClient(NewGraphAnthropicClientParams{APIKey: "k", Model: "m", Embedder: constEmbedder{}})
	vec, err := c.GenerateEmbedding(context.Background(), []byte("x"))
	if err != nil || len(vec) != 2 {
		t.Fatalf("expected delegated vector, got %v, %v", vec, err)
	}
}

func TestBuildParams_Options(t *testing.T) {
	c, _ := NewGraphAnthropicClient(NewGraphAnthropicClientParams{APIKey: "k", Model: "base", MaxTokens: 100})
	p := c.buildParams("hi", []ai.GenerateOption{ai.WithModel("critic"), ai.WithMaxTokens(50), ai.WithSystemPrompts("a", "b")})
	if string(p.Model) != "critic" {
		t.Fatalf("expected model override, got %s", p.Model)
	}
	if p.MaxTokens != 50 {
		t.Fatalf("expected 50 max tokens, got %d", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "a\n\nb" {
		t.Fatalf("expected joined system prompt, got %+v", p.System)
	}
}
