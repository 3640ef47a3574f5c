package common

import "time"

// Content is an immutable, content addressed blob of extracted text.
type Content struct {
	Hash        string    `json:"content_hash"`
	Content     string    `json:"content"`
	Size        int64     `json:"content_size"`
	ContentType string    `json:"content_type"`
	Name        string    `json:"name"`
	Link        string    `json:"link"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	SourceStatusCreated = "created"
	SourceStatusUpdated = "updated"
)

const (
	SourceTypeDocument = "document"
	SourceTypeChat     = "chat"
)

// SourceData is one logical document or chat batch of a topic.
type SourceData struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Link           string         `json:"link"`
	TopicName      string         `json:"topic_name"`
	ContentHash    string         `json:"content_hash"`
	SourceType     string         `json:"source_type"`
	Attributes     map[string]any `json:"attributes"`
	Status         string         `json:"status"`
	ContentVersion string         `json:"content_version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SourceDocument is a source together with its extracted text.
type SourceDocument struct {
	SourceData
	Content string `json:"content"`
}

// RawDataSource statuses.
const (
	RawStatusPending    = "pending"
	RawStatusProcessing = "etl_processing"
	RawStatusCompleted  = "etl_completed"
	RawStatusFailed     = "etl_failed"
)

// RawDataSource is an ETL work item: an uploaded file or URL that still has to
// be turned into Content and SourceData. A non-empty ExternalDatabaseURI
// sends the extracted source and its graph to that database.
type RawDataSource struct {
	ID                  string         `json:"id"`
	TopicName           string         `json:"topic_name"`
	Name                string         `json:"name"`
	Link                string         `json:"link"`
	SourceType          string         `json:"source_type"`
	Status              string         `json:"status"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	Metadata            map[string]any `json:"metadata"`
	SourceDataID        string         `json:"source_data_id,omitempty"`
	ExternalDatabaseURI string         `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}
