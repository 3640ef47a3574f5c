// Package aitest provides a scripted ai.GraphAIClient for tests.
package aitest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
)

// Dim is the size of vectors returned by Embedding.
const Dim = 64

// ErrNoRule is returned when no rule matches a prompt.
var ErrNoRule = errors.New("aitest: no rule matches prompt")

// Rule answers prompts that contain every string in Contains.
type Rule struct {
	Contains []string
	Reply    string
	Err      error
}

// Client is a fake GraphAIClient. Respond decides each completion; Embed
// defaults to Embedding.
type Client struct {
	ai.MetricsTracker

	Respond func(prompt string) (string, error)
	Embed   func(text string) []float32

	mu         sync.Mutex
	prompts    []string
	embeddings int
}

var _ ai.GraphAIClient = (*Client)(nil)

// New returns a client that answers with the first matching rule.
func New(rules ...Rule) *Client {
	return &Client{Respond: Rules(rules...)}
}

// Rules builds a Respond function from rules.
func Rules(rules ...Rule) func(string) (string, error) {
	return func(prompt string) (string, error) {
	next:
		for _, r := range rules {
			for _, c := range r.Contains {
				if !strings.Contains(prompt, c) {
					continue next
				}
			}
			return r.Reply, r.Err
		}
		return "", fmt.Errorf("%w: %.80q", ErrNoRule, prompt)
	}
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	c.Record(ai.ModelMetrics{InputTokens: len(prompt) / 4})
	if c.Respond == nil {
		return "", ErrNoRule
	}
	return c.Respond(prompt)
}

func (c *Client) GenerateCompletionStream(ctx context.Context, prompt string, opts ...ai.GenerateOption) (<-chan ai.StreamEvent, error) {
	out, err := c.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	ch := make(chan ai.StreamEvent, 2)
	half := len(out) / 2
	ch <- ai.StreamEvent{Content: out[:half]}
	ch <- ai.StreamEvent{Content: out[half:]}
	close(ch)
	return ch, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.embeddings++
	c.mu.Unlock()

	if c.Embed != nil {
		return c.Embed(string(input)), nil
	}
	return Embedding(string(input)), nil
}

// Calls returns the number of completion requests.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

// Prompts returns a copy of every prompt seen so far.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// EmbeddingCalls returns the number of embedding requests.
func (c *Client) EmbeddingCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embeddings
}

// Embedding is a deterministic bag of words vector: texts sharing words are
// close in cosine distance.
func Embedding(text string) []float32 {
	v := make([]float32, Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
