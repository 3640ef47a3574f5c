package common

import "strings"

const personalTopicPrefix = "The personal information of "

// Attribute keys of chat batch sources.
const (
	AttrUserID            = "user_id"
	AttrBatchType         = "batch_type"
	AttrMessageCount      = "message_count"
	AttrSessionID         = "session_id"
	AttrConversationTitle = "conversation_title"
	AttrLastMessageDate   = "last_message_date"
	AttrChatSummary       = "chat_summary"
)

// BatchTypeChatMessages tags sources created from a chat batch.
const BatchTypeChatMessages = "chat_messages"

// ChatMessage is one message of a chat batch. Date is an ISO 8601 timestamp.
type ChatMessage struct {
	Content           string `json:"message_content" validate:"required"`
	Role              string `json:"role" validate:"omitempty,oneof=user assistant system"`
	SessionID         string `json:"session_id"`
	ConversationTitle string `json:"conversation_title"`
	Date              string `json:"date"`
}

// PersonalTopic is the topic that holds the memory of one user.
func PersonalTopic(userID string) string {
	return personalTopicPrefix + userID
}

// IsPersonalTopic reports whether topic holds a user's memory.
func IsPersonalTopic(topic string) bool {
	return strings.HasPrefix(topic, personalTopicPrefix)
}
