package ollama

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	minContextWindow = 4096
	contextHeadroom  = 200
)

func (c *GraphOllamaClient) buildRequest(prompt string, stream bool, opts []ai.GenerateOption) *api.ChatRequest {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.3,
	}, opts...)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	system := 0
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
		system += ai.CountTokens(sp)
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}

	ctxTokens := contextHeadroom + system + ai.CountTokens(prompt) + options.MaxTokens
	if ctxTokens > minContextWindow {
		req.Options["num_ctx"] = ctxTokens
	}
	if options.MaxTokens > 0 {
		req.Options["num_predict"] = options.MaxTokens
	}
	return req
}

func (c *GraphOllamaClient) record(m api.Metrics) {
	c.Record(ai.ModelMetrics{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		TotalTokens:  m.PromptEvalCount + m.EvalCount,
		DurationMs:   m.TotalDuration.Milliseconds(),
	})
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	req := c.buildRequest(prompt, false, opts)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}
	c.record(final.Metrics)

	return final.Message.Content, nil
}

// GenerateCompletionStream streams a single-turn completion chunk by chunk.
func (c *GraphOllamaClient) GenerateCompletionStream(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	req := c.buildRequest(prompt, true, opts)

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	out := make(chan ai.StreamEvent, 16)
	go func() {
		defer close(out)
		defer c.reqLock.Release(1)

		start := time.Now()
		err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
			if s := cr.Message.Content; s != "" {
				select {
				case out <- ai.StreamEvent{Content: s}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if cr.Done {
				m := cr.Metrics
				if m.TotalDuration == 0 {
					m.TotalDuration = time.Since(start)
				}
				c.record(m)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			out <- ai.StreamEvent{Err: err}
		}
	}()

	return out, nil
}
