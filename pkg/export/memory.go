package export

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

// Memory types a query can ask for.
const (
	MemoryConversations = "conversation"
	MemoryInsights      = "insights"
)

const (
	defaultMemoryTopK = 5
	// conversations scored per requested result
	conversationOverfetch = 3
)

// MemoryStore is the read surface RetrieveUserMemory needs.
type MemoryStore interface {
	ListSources(ctx context.Context, topic string) ([]common.SourceData, error)
	SearchRelationships(ctx context.Context, p store.SearchParams) ([]common.ScoredRelationship, error)
}

type MemoryQuery struct {
	UserID string
	Query  string
	// Types defaults to both conversations and insights.
	Types []string
	// Start and End bound the conversations by creation time. Zero values
	// leave that side open. Insights carry no time and are never filtered.
	Start time.Time
	End   time.Time
	TopK  int
}

type Conversation struct {
	SourceID        string  `json:"source_id"`
	Title           string  `json:"conversation_title"`
	SessionID       string  `json:"session_id"`
	Summary         string  `json:"summary"`
	LastMessageDate string  `json:"last_message_date"`
	MessageCount    int     `json:"message_count"`
	Score           float64 `json:"similarity_score"`
}

type Insight struct {
	RelationshipID string  `json:"relationship_id"`
	Subject        string  `json:"subject"`
	Object         string  `json:"object"`
	Description    string  `json:"description"`
	Score          float64 `json:"similarity_score"`
}

type UserMemory struct {
	UserID        string         `json:"user_id"`
	TopicName     string         `json:"topic_name"`
	Conversations []Conversation `json:"conversations"`
	Insights      []Insight      `json:"insights"`
}

// RetrieveUserMemory ranks the stored conversations and graph insights of a
// user against the query text.
func RetrieveUserMemory(ctx context.Context, s MemoryStore, embedder ai.GraphAIClient, q MemoryQuery) (UserMemory, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return UserMemory{}, errors.New("user id is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return UserMemory{}, errors.New("query is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultMemoryTopK
	}
	types := q.Types
	if len(types) == 0 {
		types = []string{MemoryConversations, MemoryInsights}
	}

	out := UserMemory{
		UserID:        q.UserID,
		TopicName:     common.PersonalTopic(q.UserID),
		Conversations: []Conversation{},
		Insights:      []Insight{},
	}

	query, err := embedder.GenerateEmbedding(ctx, []byte(q.Query))
	if err != nil {
		return UserMemory{}, fmt.Errorf("failed to embed query: %w", err)
	}

	if slices.Contains(types, MemoryConversations) {
		convs, err := rankConversations(ctx, s, embedder, out.TopicName, query, q, topK)
		if err != nil {
			return UserMemory{}, err
		}
		out.Conversations = convs
	}

	if slices.Contains(types, MemoryInsights) {
		hits, err := s.SearchRelationships(ctx, store.SearchParams{
			Embedding: query,
			Topic:     out.TopicName,
			TopK:      topK,
		})
		if err != nil {
			return UserMemory{}, fmt.Errorf("failed to search insights: %w", err)
		}
		for _, h := range hits {
			out.Insights = append(out.Insights, Insight{
				RelationshipID: h.ID,
				Subject:        h.SourceEntityName,
				Object:         h.TargetEntityName,
				Description:    h.Description,
				Score:          h.Score,
			})
		}
	}

	logger.Debug("[Memory] Retrieved user memory", "user", q.UserID, "conversations", len(out.Conversations), "insights", len(out.Insights))
	return out, nil
}

func rankConversations(
	ctx context.Context,
	s MemoryStore,
	embedder ai.GraphAIClient,
	topic string,
	query []float32,
	q MemoryQuery,
	topK int,
) ([]Conversation, error) {
	sources, err := s.ListSources(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var candidates []common.SourceData
	for _, src := range sources {
		if src.SourceType != common.SourceTypeChat {
			continue
		}
		if !q.Start.IsZero() && src.CreatedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && src.CreatedAt.After(q.End) {
			continue
		}
		candidates = append(candidates, src)
	}
	if len(candidates) == 0 {
		return []Conversation{}, nil
	}

	slices.SortStableFunc(candidates, func(a, b common.SourceData) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit := topK * conversationOverfetch; len(candidates) > limit {
		candidates = candidates[:limit]
	}

	inputs := make([][]byte, len(candidates))
	for i, src := range candidates {
		inputs[i] = []byte(store.EmbeddingText(src.Name, common.AttrString(src.Attributes, common.AttrChatSummary)))
	}
	vectors, err := store.GenerateEmbeddings(ctx, embedder, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to embed conversations: %w", err)
	}

	convs := make([]Conversation, len(candidates))
	for i, src := range candidates {
		convs[i] = Conversation{
			SourceID:        src.ID,
			Title:           common.AttrString(src.Attributes, common.AttrConversationTitle),
			SessionID:       common.AttrString(src.Attributes, common.AttrSessionID),
			Summary:         common.AttrString(src.Attributes, common.AttrChatSummary),
			LastMessageDate: common.AttrString(src.Attributes, common.AttrLastMessageDate),
			MessageCount:    messageCount(src.Attributes[common.AttrMessageCount]),
			Score:           store.CosineSimilarity(query, vectors[i]),
		}
	}
	return store.TopScored(convs, topK, func(c Conversation) float64 { return c.Score }), nil
}

// messageCount reads the count whether it was stored as an int or decoded
// from JSON as a float.
func messageCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
