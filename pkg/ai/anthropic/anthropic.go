package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

const defaultMaxTokens = 4096

// ErrNoEmbedder is returned by GenerateEmbedding when no embedding backend was configured.
var ErrNoEmbedder = errors.New("anthropic client has no embedding backend")

// Embedder produces embeddings on behalf of a provider that has none.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// GraphAnthropicClient implements ai.GraphAIClient with the Messages API.
// It is mostly used for critics and the optimizer, where a second model
// family reduces correlated mistakes.
type GraphAnthropicClient struct {
	ai.MetricsTracker

	model     string
	maxTokens int
	timeout   time.Duration
	embedder  Embedder

	reqLock *semaphore.Weighted

	Client *anthropic.Client
}

// NewGraphAnthropicClientParams configures a GraphAnthropicClient.
type NewGraphAnthropicClientParams struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int

	// Embedder serves GenerateEmbedding. Optional.
	Embedder Embedder

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

func NewGraphAnthropicClient(params NewGraphAnthropicClientParams) (*GraphAnthropicClient, error) {
	if params.APIKey == "" {
		return nil, errors.New("anthropic api key is empty")
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultMaxTokens
	}
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Minute
	}

	opts := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &GraphAnthropicClient{
		model:     params.Model,
		maxTokens: params.MaxTokens,
		timeout:   params.Timeout,
		embedder:  params.Embedder,
		reqLock:   semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:    &client,
	}, nil
}

func (c *GraphAnthropicClient) buildParams(prompt string, opts []ai.GenerateOption) anthropic.MessageNewParams {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.model,
		Temperature: 0.3,
		MaxTokens:   c.maxTokens,
	}, opts...)
	if options.MaxTokens <= 0 {
		options.MaxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(options.Temperature),
	}
	if len(options.SystemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(options.SystemPrompts, "\n\n")},
		}
	}
	return params
}

func (c *GraphAnthropicClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	params := c.buildParams(prompt, opts)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	start := time.Now()
	resp, err := c.Client.Messages.New(rCtx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages request: %w", err)
	}
	c.Record(ai.ModelMetrics{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no text in anthropic response (stop_reason: %s)", resp.StopReason)
	}
	return text.String(), nil
}

func (c *GraphAnthropicClient) GenerateCompletionStream(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	params := c.buildParams(prompt, opts)

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	start := time.Now()
	stream := c.Client.Messages.NewStreaming(ctx, params)
	out := make(chan ai.StreamEvent, 16)

	go func() {
		defer close(out)
		defer c.reqLock.Release(1)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			_ = message.Accumulate(event)

			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			select {
			case out <- ai.StreamEvent{Content: text.Text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- ai.StreamEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		c.Record(ai.ModelMetrics{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
			TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
			DurationMs:   time.Since(start).Milliseconds(),
		})
	}()

	return out, nil
}

// GenerateEmbedding delegates to the configured Embedder.
func (c *GraphAnthropicClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if c.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return c.embedder.GenerateEmbedding(ctx, input)
}
