package ai

import (
	"math"
	"sync"
)

// MetricsTracker accumulates ModelMetrics across concurrent requests.
// Provider clients embed it to implement ResetMetrics and GetMetrics.
type MetricsTracker struct {
	mu      sync.Mutex
	metrics ModelMetrics
}

// Record adds one request's usage.
func (t *MetricsTracker) Record(m ModelMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.InputTokens += m.InputTokens
	t.metrics.OutputTokens += m.OutputTokens
	t.metrics.TotalTokens += m.TotalTokens
	t.metrics.DurationMs += m.DurationMs
	t.metrics.Requests++

	if t.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(t.metrics.TotalTokens) * 1000.0) / float64(t.metrics.DurationMs)
		t.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

func (t *MetricsTracker) ResetMetrics() {
	t.mu.Lock()
	t.metrics = ModelMetrics{}
	t.mu.Unlock()
}

func (t *MetricsTracker) GetMetrics() ModelMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}
