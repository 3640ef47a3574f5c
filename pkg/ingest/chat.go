package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/store"
)

const (
	chatSummaryInputTokens = 60000
	chatSummaryMaxTokens   = 4096
)

// ChatBatch is a set of chat messages stored as one source in the personal
// memory topic of UserID.
type ChatBatch struct {
	UserID              string
	Messages            []common.ChatMessage
	ExternalDatabaseURI string
}

type ChatBatchResult struct {
	Source    common.SourceData `json:"source"`
	TopicName string            `json:"topic_name"`
	BuildID   string            `json:"build_id"`
	Created   bool              `json:"created"`
}

// ProcessChatBatch stores the messages as JSON content, registers a chat
// source with an optional summary and queues a graph build for the personal
// topic. A batch whose link is already registered reuses the stored source.
func (p *Pipeline) ProcessChatBatch(ctx context.Context, batch ChatBatch) (ChatBatchResult, error) {
	userID := strings.TrimSpace(batch.UserID)
	if userID == "" {
		return ChatBatchResult{}, errors.New("user id is required")
	}
	if len(batch.Messages) == 0 {
		return ChatBatchResult{}, errors.New("chat batch has no messages")
	}

	target, err := p.sourceStore(ctx, batch.ExternalDatabaseURI)
	if err != nil {
		return ChatBatchResult{}, err
	}

	topic := common.PersonalTopic(userID)
	stamp := lastMessageDate(batch.Messages)
	link := fmt.Sprintf("memory://%s/chat_batch/%s", userID, stamp)
	res := ChatBatchResult{
		TopicName: topic,
		BuildID:   util.ContentHash([]byte(link + "||" + batch.ExternalDatabaseURI)),
	}

	src, err := target.GetSourceByLink(ctx, link)
	switch {
	case err == nil:
		logger.Debug("[Memory] Chat batch already stored", "user", userID, "source_id", src.ID)
	case errors.Is(err, store.ErrNotFound):
		src, err = p.storeChatBatch(ctx, target, userID, topic, link, stamp, batch.Messages)
		if err != nil {
			return ChatBatchResult{}, err
		}
		res.Created = true
	default:
		return ChatBatchResult{}, err
	}
	res.Source = src

	if err := p.store.CreateGraphBuilds(ctx, []common.GraphBuild{{
		ID:                  util.NewID(),
		BuildID:             res.BuildID,
		TopicName:           topic,
		ExternalDatabaseURI: batch.ExternalDatabaseURI,
		DocLink:             link,
		SourceID:            src.ID,
		Status:              common.BuildPending,
	}}); err != nil {
		return res, fmt.Errorf("failed to schedule graph build: %w", err)
	}
	logger.Info("[Memory] Chat batch queued", "user", userID, "source_id", src.ID, "messages", len(batch.Messages), "created", res.Created)
	return res, nil
}

func (p *Pipeline) storeChatBatch(
	ctx context.Context,
	target sourceStore,
	userID, topic, link, stamp string,
	messages []common.ChatMessage,
) (common.SourceData, error) {
	data, err := encodeChatMessages(messages)
	if err != nil {
		return common.SourceData{}, err
	}
	hash := util.ContentHash(data)
	name := fmt.Sprintf("chat_batch_%s_%s", userID, stamp)

	if _, err := target.PutContent(ctx, common.Content{
		Hash:        hash,
		Content:     string(data),
		Size:        int64(len(data)),
		ContentType: "application/json",
		Name:        name,
		Link:        link,
	}); err != nil {
		return common.SourceData{}, fmt.Errorf("failed to store chat content: %w", err)
	}

	first := messages[0]
	attrs := map[string]any{
		common.AttrTopicName:         topic,
		common.AttrDocLink:           link,
		common.AttrUserID:            userID,
		common.AttrBatchType:         common.BatchTypeChatMessages,
		common.AttrMessageCount:      len(messages),
		common.AttrSessionID:         first.SessionID,
		common.AttrConversationTitle: first.ConversationTitle,
		common.AttrLastMessageDate:   stamp,
	}
	if summary := p.summarizeChat(ctx, first.ConversationTitle, stamp, messages); summary != "" {
		attrs[common.AttrChatSummary] = summary
	}

	src, _, err := target.UpsertSource(ctx, common.SourceData{
		Name:        name,
		Link:        link,
		TopicName:   topic,
		ContentHash: hash,
		SourceType:  common.SourceTypeChat,
		Attributes:  attrs,
	})
	if err != nil {
		return common.SourceData{}, fmt.Errorf("failed to register chat source: %w", err)
	}
	return src, nil
}

// summarizeChat returns "" when no summarizer is configured or the call fails.
func (p *Pipeline) summarizeChat(ctx context.Context, title, date string, messages []common.ChatMessage) string {
	if p.summarizer == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	if title == "" {
		title = "Untitled conversation"
	}
	prompt := fmt.Sprintf(ai.ChatSummaryPrompt, title, date, ai.TruncateToTokens(b.String(), chatSummaryInputTokens))
	resp, err := p.summarizer.GenerateCompletion(ctx, prompt, ai.WithMaxTokens(chatSummaryMaxTokens))
	if err != nil {
		logger.Warn("[Memory] Chat summary failed", "err", err)
		return ""
	}
	return strings.TrimSpace(ai.StripThinkBlocks(resp))
}

func encodeChatMessages(messages []common.ChatMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(messages); err != nil {
		return nil, fmt.Errorf("failed to encode chat messages: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// lastMessageDate is the latest message date, or now when no message carries
// one. ISO 8601 dates order lexically.
func lastMessageDate(messages []common.ChatMessage) string {
	var last string
	for _, m := range messages {
		if m.Date > last {
			last = m.Date
		}
	}
	if last == "" {
		last = time.Now().UTC().Format(time.RFC3339)
	}
	return last
}
