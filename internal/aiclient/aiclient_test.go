package aiclient

import (
	"testing"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
)

func TestParseCritics_Inherits(t *testing.T) {
	base := ClientConfig{Adapter: AdapterOpenAI, Model: "gpt-4o-mini", URL: "http://llm", APIKey: "k", Parallel: 4}
	data := []byte(`
critics:
  - name: strict
    model: gpt-4o
  - name: claude
    adapter: anthropic
    model: claude-sonnet
    api_key_env: ANTHROPIC_API_KEY
`)
	got, err := ParseCritics(data, base)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 critics, got %d", len(got))
	}
	if got[0].Adapter != AdapterOpenAI || got[0].URL != "http://llm" || got[0].APIKey != "k" || got[0].Model != "gpt-4o" {
		t.Fatalf("expected openai critic to inherit base settings, got %+v", got[0])
	}
	if got[1].URL != "" || got[1].APIKey != "" {
		t.Fatalf("expected other adapter not to inherit url or key, got %+v", got[1])
	}
	if got[1].Parallel != 4 {
		t.Fatalf("expected parallel to be inherited, got %d", got[1].Parallel)
	}
}

func TestParseCritics_Duplicate(t *testing.T) {
	data := []byte("critics:\n  - name: a\n  - name: a\n")
	if _, err := ParseCritics(data, ClientConfig{}); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestNew_UnknownAdapter(t *testing.T) {
	if _, err := New(ClientConfig{Adapter: "gemini"}, nil); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestParseOptimizerConfig(t *testing.T) {
	cfg, err := ParseOptimizerConfig([]byte("critics: []\noptimizer:\n  top_k: 10\n  confidence_threshold: 1.8\n"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.TopK != 10 || cfg.ConfidenceThreshold != 1.8 {
		t.Fatalf("expected overrides, got %+v", cfg)
	}
	if cfg.MaxConcurrentIssues != 3 || cfg.MaxEvaluationRounds != 3 {
		t.Fatalf("expected defaults for unset fields, got %+v", cfg)
	}

	cfg, err = ParseOptimizerConfig([]byte("critics: []\n"))
	if err != nil || cfg.ConfidenceThreshold != 0.9 {
		t.Fatalf("expected defaults without section, got %+v %v", cfg, err)
	}
}

func TestCriticList_SortedByName(t *testing.T) {
	c := &Clients{Critics: map[string]ai.GraphAIClient{"strict": nil, "claude": nil, "default": nil}}
	list := c.CriticList()
	if len(list) != 3 || list[0].Name != "claude" || list[2].Name != "strict" {
		t.Fatalf("expected critics sorted by name, got %+v", list)
	}
}
