// Package aiclient builds the process wide LLM clients from the environment.
// Clients are created once in main and injected into every component.
package aiclient

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/anthropic"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/ollama"
	"github.com/OFFIS-RIT/kgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/kgraph/pkg/optimize"

	"gopkg.in/yaml.v3"
)

const (
	AdapterOpenAI    = "openai"
	AdapterOllama    = "ollama"
	AdapterAnthropic = "anthropic"
)

// ClientConfig describes one provider client.
type ClientConfig struct {
	Name      string `yaml:"name"`
	Adapter   string `yaml:"adapter"`
	Model     string `yaml:"model"`
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
	Parallel  int64  `yaml:"parallel"`

	EmbedModel string `yaml:"embed_model"`
	EmbedURL   string `yaml:"embed_url"`
	EmbedKey   string `yaml:"embed_key"`
	EmbedDim   int    `yaml:"embed_dim"`
}

// CriticsFile is the YAML document referenced by CRITICS_CONFIG. The
// optional optimizer section tunes the optimization engine.
type CriticsFile struct {
	Critics   []ClientConfig   `yaml:"critics"`
	Optimizer optimize.Config `yaml:"optimizer"`
}

// FromEnv reads the main client configuration from AI_* variables.
func FromEnv() ClientConfig {
	return ClientConfig{
		Name:       "default",
		Adapter:    util.GetEnvString("AI_ADAPTER", AdapterOpenAI),
		Model:      util.GetEnv("AI_CHAT_MODEL"),
		URL:        util.GetEnv("AI_CHAT_URL"),
		APIKey:     util.GetEnv("AI_CHAT_KEY"),
		Parallel:   int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 8)),
		EmbedModel: util.GetEnv("AI_EMBED_MODEL"),
		EmbedURL:   util.GetEnv("AI_EMBED_URL"),
		EmbedKey:   util.GetEnv("AI_EMBED_KEY"),
		EmbedDim:   int(util.GetEnvNumeric("AI_EMBED_DIM", 4096)),
	}
}

// New builds a client for cfg. embedder backs providers without embeddings.
func New(cfg ClientConfig, embedder anthropic.Embedder) (ai.GraphAIClient, error) {
	key := cfg.APIKey
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	timeout := time.Duration(util.GetEnvNumeric("AI_TIMEOUT_MIN", 10)) * time.Minute

	switch cfg.Adapter {
	case AdapterOllama:
		c, err := ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
			ChatModel:             cfg.Model,
			EmbeddingModel:        cfg.EmbedModel,
			EmbeddingDim:          cfg.EmbedDim,
			BaseURL:               cfg.URL,
			ApiKey:                key,
			MaxConcurrentRequests: cfg.Parallel,
			Timeout:               timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case AdapterAnthropic:
		c, err := anthropic.NewGraphAnthropicClient(anthropic.NewGraphAnthropicClientParams{
			Model:                 cfg.Model,
			APIKey:                key,
			BaseURL:               cfg.URL,
			MaxTokens:             cfg.MaxTokens,
			Embedder:              embedder,
			MaxConcurrentRequests: cfg.Parallel,
			Timeout:               timeout,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case AdapterOpenAI, "":
		embedKey := cfg.EmbedKey
		if embedKey == "" {
			embedKey = key
		}
		return openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
			ChatModel:             cfg.Model,
			EmbeddingModel:        cfg.EmbedModel,
			EmbeddingDim:          cfg.EmbedDim,
			ChatURL:               cfg.URL,
			ChatKey:               key,
			EmbeddingURL:          cfg.EmbedURL,
			EmbeddingKey:          embedKey,
			MaxConcurrentRequests: cfg.Parallel,
			Timeout:               timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI adapter %q", cfg.Adapter)
	}
}

// LoadCritics parses a critics file. Missing fields inherit from base.
func LoadCritics(path string, base ClientConfig) ([]ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read critics config: %w", err)
	}
	return ParseCritics(data, base)
}

func ParseCritics(data []byte, base ClientConfig) ([]ClientConfig, error) {
	var file CriticsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse critics config: %w", err)
	}
	seen := map[string]struct{}{}
	out := make([]ClientConfig, 0, len(file.Critics))
	for i, c := range file.Critics {
		if c.Name == "" {
			return nil, fmt.Errorf("critic %d has no name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("duplicate critic name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.Adapter == "" {
			c.Adapter = base.Adapter
		}
		if c.Model == "" {
			c.Model = base.Model
		}
		if c.URL == "" && c.Adapter == base.Adapter {
			c.URL = base.URL
		}
		if c.APIKey == "" && c.APIKeyEnv == "" && c.Adapter == base.Adapter {
			c.APIKey = base.APIKey
		}
		if c.Parallel == 0 {
			c.Parallel = base.Parallel
		}
		out = append(out, c)
	}
	return out, nil
}

// Clients bundles the injected clients of one process.
type Clients struct {
	Main      ai.GraphAIClient
	Optimizer ai.GraphAIClient
	Critics   map[string]ai.GraphAIClient
}

// NewClients builds the main client plus optimizer and critic clients.
// OPTIMIZER_MODEL overrides the optimizer model, CRITICS_CONFIG points at a
// critics YAML file; without it a single critic "default" reuses the main
// configuration with CRITIC_MODEL.
func NewClients() (*Clients, error) {
	base := FromEnv()
	main, err := New(base, nil)
	if err != nil {
		return nil, err
	}

	optCfg := base
	optCfg.Name = "optimizer"
	if m := util.GetEnv("OPTIMIZER_MODEL"); m != "" {
		optCfg.Model = m
	}
	optimizer, err := New(optCfg, main)
	if err != nil {
		return nil, err
	}

	var criticCfgs []ClientConfig
	if path := util.GetEnv("CRITICS_CONFIG"); path != "" {
		criticCfgs, err = LoadCritics(path, base)
		if err != nil {
			return nil, err
		}
	} else {
		c := base
		c.Name = "default"
		c.Model = util.GetEnvString("CRITIC_MODEL", base.Model)
		criticCfgs = []ClientConfig{c}
	}

	critics := make(map[string]ai.GraphAIClient, len(criticCfgs))
	for _, cfg := range criticCfgs {
		cli, err := New(cfg, main)
		if err != nil {
			return nil, fmt.Errorf("critic %s: %w", cfg.Name, err)
		}
		critics[cfg.Name] = cli
	}

	return &Clients{Main: main, Optimizer: optimizer, Critics: critics}, nil
}

// CriticList returns the critics ordered by name.
func (c *Clients) CriticList() []optimize.Critic {
	names := make([]string, 0, len(c.Critics))
	for name := range c.Critics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]optimize.Critic, 0, len(names))
	for _, name := range names {
		out = append(out, optimize.Critic{Name: name, Client: c.Critics[name]})
	}
	return out
}

// OptimizerConfig reads the optimizer section of the CRITICS_CONFIG file.
// Without a file or section the engine defaults apply.
func OptimizerConfig() (optimize.Config, error) {
	path := util.GetEnv("CRITICS_CONFIG")
	if path == "" {
		return optimize.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return optimize.Config{}, fmt.Errorf("read critics config: %w", err)
	}
	return ParseOptimizerConfig(data)
}

func ParseOptimizerConfig(data []byte) (optimize.Config, error) {
	file := CriticsFile{Optimizer: optimize.DefaultConfig()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return optimize.Config{}, fmt.Errorf("parse critics config: %w", err)
	}
	return file.Optimizer, nil
}
