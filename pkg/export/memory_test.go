package export

import (
	"context"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai/aitest"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
	"github.com/OFFIS-RIT/kgraph/pkg/store/memory"
)

func addChat(t *testing.T, s *memory.Store, user, title, summary string) common.SourceData {
	t.Helper()
	topic := common.PersonalTopic(user)
	src, _, err := s.UpsertSource(context.Background(), common.SourceData{
		Name:       "chat_batch_" + title,
		Link:       "memory://" + user + "/chat_batch/" + title,
		TopicName:  topic,
		SourceType: common.SourceTypeChat,
		Attributes: map[string]any{
			common.AttrTopicName:         topic,
			common.AttrConversationTitle: title,
			common.AttrChatSummary:       summary,
			common.AttrMessageCount:      4,
		},
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	return src
}

func seedInsight(t *testing.T, s *memory.Store, topic, subject, object, desc string) {
	t.Helper()
	_, err := s.MergeTriplet(context.Background(), store.MergeTripletParams{
		Topic:        topic,
		Subject:      store.EntityInput{Name: subject},
		Object:       store.EntityInput{Name: object},
		Relationship: store.RelationshipInput{Description: desc, Embedding: aitest.Embedding(desc)},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
}

func TestRetrieveUserMemory_RanksConversationsAndInsights(t *testing.T) {
	s := memory.New()
	client := aitest.New()
	ctx := context.Background()
	topic := common.PersonalTopic("u-42")

	addChat(t, s, "u-42", "cooking", "The user asked for a pasta recipe with tomatoes")
	move := addChat(t, s, "u-42", "moving", "The user moved to Oldenburg and cycles to work")
	addChat(t, s, "u-7", "moving-other", "Another user moved to Oldenburg")
	seedInsight(t, s, topic, "User", "Oldenburg", "The user lives in Oldenburg since moving")
	seedInsight(t, s, topic, "User", "Pasta", "The user cooks pasta")
	seedInsight(t, s, common.PersonalTopic("u-7"), "Other", "Oldenburg", "Another user lives in Oldenburg")

	got, err := RetrieveUserMemory(ctx, s, client, MemoryQuery{UserID: "u-42", Query: "moved to Oldenburg", TopK: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.Conversations) != 1 || got.Conversations[0].SourceID != move.ID {
		t.Fatalf("expected the moving conversation, got %+v", got.Conversations)
	}
	if c := got.Conversations[0]; c.Title != "moving" || c.MessageCount != 4 || c.Score <= 0 {
		t.Fatalf("unexpected conversation %+v", c)
	}
	if len(got.Insights) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(got.Insights))
	}
	if in := got.Insights[0]; in.Subject != "User" || in.Object != "Oldenburg" {
		t.Fatalf("expected the Oldenburg insight of u-42, got %+v", in)
	}
}

func TestRetrieveUserMemory_FiltersTypesAndTime(t *testing.T) {
	s := memory.New()
	client := aitest.New()
	ctx := context.Background()
	addChat(t, s, "u-42", "moving", "The user moved to Oldenburg")
	seedInsight(t, s, common.PersonalTopic("u-42"), "User", "Oldenburg", "The user lives in Oldenburg")

	got, err := RetrieveUserMemory(ctx, s, client, MemoryQuery{UserID: "u-42", Query: "Oldenburg", Types: []string{MemoryInsights}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Conversations) != 0 || len(got.Insights) != 1 {
		t.Fatalf("expected insights only, got %d conversations and %d insights", len(got.Conversations), len(got.Insights))
	}

	got, err = RetrieveUserMemory(ctx, s, client, MemoryQuery{UserID: "u-42", Query: "Oldenburg", Start: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Conversations) != 0 {
		t.Fatalf("expected conversations before start to be dropped, got %+v", got.Conversations)
	}
	if len(got.Insights) != 1 {
		t.Fatalf("expected insights to ignore the time range, got %d", len(got.Insights))
	}
}

func TestRetrieveUserMemory_RequiresUserAndQuery(t *testing.T) {
	s := memory.New()
	client := aitest.New()
	if _, err := RetrieveUserMemory(context.Background(), s, client, MemoryQuery{Query: "x"}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if _, err := RetrieveUserMemory(context.Background(), s, client, MemoryQuery{UserID: "u-1"}); err == nil {
		t.Fatalf("expected error for missing query")
	}
	if client.EmbeddingCalls() != 0 {
		t.Fatalf("expected no embedding calls, got %d", client.EmbeddingCalls())
	}
}
