// Package optimize finds and repairs quality issues in a built graph. A run
// detects issues in a retrieved neighbourhood, lets critics validate them and
// repairs the ones that reach the confidence threshold. Issue state is kept
// between runs so interrupted work is resumed instead of redone.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	defaultTopK                = 30
	defaultMaxConcurrentIssues = 3
	defaultConfidence          = 0.9
	defaultSimilarity          = 0.3
	defaultEvaluationRounds    = 3

	// DefaultCriticName names the critic used when none is configured.
	DefaultCriticName = "llm-critic"
)

type Config struct {
	MaxConcurrentIssues int     `yaml:"max_concurrent_issues"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
	MaxEvaluationRounds int     `yaml:"max_evaluation_rounds"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentIssues: defaultMaxConcurrentIssues,
		ConfidenceThreshold: defaultConfidence,
		SimilarityThreshold: defaultSimilarity,
		TopK:                defaultTopK,
		MaxEvaluationRounds: defaultEvaluationRounds,
	}
}

// withDefaults fills unset fields. A zero ConfidenceThreshold is kept as is.
func (c Config) withDefaults() Config {
	if c.MaxConcurrentIssues <= 0 {
		c.MaxConcurrentIssues = defaultMaxConcurrentIssues
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.MaxEvaluationRounds <= 0 {
		c.MaxEvaluationRounds = defaultEvaluationRounds
	}
	return c
}

// IssueStore persists detected issues keyed by Issue.Key.
type IssueStore interface {
	// AddIssues stores issues whose key is unknown and returns those.
	AddIssues(ctx context.Context, issues []common.Issue) ([]common.Issue, error)
	Issues(ctx context.Context) ([]common.Issue, error)
	Update(ctx context.Context, issue common.Issue) error
	Clear(ctx context.Context) error
}

type Engine struct {
	graph    store.GraphStore
	state    IssueStore
	client   ai.GraphAIClient
	detector ai.GraphAIClient
	critics  []Critic
	provider GraphProvider
	cfg      Config
}

type NewEngineParams struct {
	Store store.GraphStore
	State IssueStore
	// Client runs repairs and embeddings.
	Client ai.GraphAIClient
	// Detector defaults to Client.
	Detector ai.GraphAIClient
	// Critics defaults to a single critic backed by Client.
	Critics []Critic
	// Provider defaults to a VectorGraphProvider over Store.
	Provider GraphProvider
	Config   Config
}

func NewEngine(p NewEngineParams) (*Engine, error) {
	if p.Store == nil || p.State == nil || p.Client == nil {
		return nil, errors.New("store, state and client are required")
	}
	cfg := p.Config.withDefaults()

	detector := p.Detector
	if detector == nil {
		detector = p.Client
	}
	critics := p.Critics
	if len(critics) == 0 {
		critics = []Critic{{Name: DefaultCriticName, Client: p.Client}}
	}
	for _, c := range critics {
		if c.Name == "" || c.Client == nil {
			return nil, fmt.Errorf("critic %q needs a name and a client", c.Name)
		}
	}
	provider := p.Provider
	if provider == nil {
		provider = NewVectorGraphProvider(NewVectorGraphProviderParams{
			Store:     p.Store,
			Client:    p.Client,
			TopK:      cfg.TopK,
			Threshold: cfg.SimilarityThreshold,
		})
	}

	return &Engine{
		graph:    p.Store,
		state:    p.State,
		client:   p.Client,
		detector: detector,
		critics:  critics,
		provider: provider,
		cfg:      cfg,
	}, nil
}

// Report describes one Optimize run.
type Report struct {
	Detected bool
	// NewIssues counts issues whose key was not stored before this run.
	NewIssues int
	Repaired  int
	Skipped   int
	Failed    int
	Stats     Stats
}

// Optimize runs one detect, evaluate and repair cycle for q.
func (e *Engine) Optimize(ctx context.Context, q Query) (Report, error) {
	var report Report

	issues, err := e.state.Issues(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load issues: %w", err)
	}

	if e.shouldDetect(ctx, issues) {
		report.Detected = true
		data, err := e.provider.Retrieve(ctx, q)
		if err != nil {
			return report, fmt.Errorf("failed to retrieve graph: %w", err)
		}
		if data.Len() == 0 {
			logger.Info("[Optimizer] Nothing to analyse", "query", q.Text, "topic", q.Topic)
		} else {
			found, err := e.detect(ctx, data, q.Text)
			if err != nil {
				return report, err
			}
			added, err := e.state.AddIssues(ctx, found)
			if err != nil {
				return report, fmt.Errorf("failed to store issues: %w", err)
			}
			report.NewIssues = len(added)
			if issues, err = e.state.Issues(ctx); err != nil {
				return report, fmt.Errorf("failed to load issues: %w", err)
			}
		}
	} else {
		logger.Info("[Optimizer] Resuming pending issues", "issues", len(issues))
	}

	pending := unresolved(issues)
	if pending, err = e.evaluate(ctx, pending); err != nil {
		return report, err
	}

	if err := e.resolve(ctx, pending, &report); err != nil {
		return report, err
	}

	if report.Stats, err = e.Status(ctx); err != nil {
		return report, err
	}
	logger.Info("[Optimizer] Run finished", "summary", report.Stats.Summary(),
		"repaired", report.Repaired, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// shouldDetect is true when there is no pending work: no issues at all, or
// every open issue has a verdict and none of them reached the threshold.
func (e *Engine) shouldDetect(ctx context.Context, issues []common.Issue) bool {
	pending := unresolved(issues)
	for _, is := range pending {
		if is.ValidationScore >= e.cfg.ConfidenceThreshold {
			return false
		}
	}
	return e.allEvaluated(ctx, pending)
}

func unresolved(issues []common.Issue) []common.Issue {
	out := make([]common.Issue, 0, len(issues))
	for _, is := range issues {
		if !is.Resolved {
			out = append(out, is)
		}
	}
	return out
}

// resolve repairs every validated, unresolved issue. Types are handled in
// order so entity fixes land before relationship fixes.
func (e *Engine) resolve(ctx context.Context, issues []common.Issue, report *Report) error {
	var mu sync.Mutex

	for _, t := range common.IssueTypes {
		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(e.cfg.MaxConcurrentIssues)

		for _, is := range issues {
			if is.Type != t || is.Resolved || is.ValidationScore < e.cfg.ConfidenceThreshold {
				continue
			}
			eg.Go(func() error {
				res, err := e.repair(gctx, is)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Error("[Optimizer] Repair failed", "key", is.Key, "err", err)
					mu.Lock()
					report.Failed++
					mu.Unlock()
					return nil
				}

				is.Resolved = true
				if err := e.state.Update(gctx, is); err != nil {
					return fmt.Errorf("failed to mark %s resolved: %w", is.Key, err)
				}
				mu.Lock()
				if res == skipped {
					report.Skipped++
				} else {
					report.Repaired++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets every stored issue.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.state.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear issues: %w", err)
	}
	logger.Info("[Optimizer] Issue state cleared")
	return nil
}

type TypeStats struct {
	Detected  int `json:"detected"`
	Validated int `json:"validated"`
	Resolved  int `json:"resolved"`
}

type Stats struct {
	TotalIssues     int                            `json:"total_issues"`
	UniqueKeys      int                            `json:"unique_keys"`
	ValidatedIssues int                            `json:"validated_issues"`
	ResolvedIssues  int                            `json:"resolved_issues"`
	ResolutionRate  float64                        `json:"resolution_rate"`
	ByType          map[common.IssueType]TypeStats `json:"by_type"`
}

func (s Stats) Summary() string {
	return fmt.Sprintf("%d total issues (%d validated, %d resolved)",
		s.TotalIssues, s.ValidatedIssues, s.ResolvedIssues)
}

// Status summarises the stored issues.
func (e *Engine) Status(ctx context.Context) (Stats, error) {
	issues, err := e.state.Issues(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load issues: %w", err)
	}
	return computeStats(issues, e.cfg.ConfidenceThreshold), nil
}

func computeStats(issues []common.Issue, threshold float64) Stats {
	s := Stats{
		TotalIssues: len(issues),
		ByType:      map[common.IssueType]TypeStats{},
	}
	keys := map[string]struct{}{}
	for _, is := range issues {
		keys[is.Key] = struct{}{}
		ts := s.ByType[is.Type]
		ts.Detected++
		if is.ValidationScore >= threshold {
			s.ValidatedIssues++
			ts.Validated++
		}
		if is.Resolved {
			s.ResolvedIssues++
			ts.Resolved++
		}
		s.ByType[is.Type] = ts
	}
	s.UniqueKeys = len(keys)
	if s.ValidatedIssues > 0 {
		s.ResolutionRate = float64(s.ResolvedIssues) / float64(s.ValidatedIssues)
	}
	return s
}
