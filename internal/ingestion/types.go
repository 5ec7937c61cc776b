// Package ingestion defines the request/response types and Kafka event schema
// used by the article ingestion pipeline.
package ingestion

import "time"

// Ingest statuses reported to callers.
const (
	// StatusQueued means the article was published to the ingest stream.
	StatusQueued = "queued"
	// StatusArchived means the article was archived but not published; it
	// reaches matchers on their next replay.
	StatusArchived = "archived"
	// StatusIndexed means a matcher ingested the article directly.
	StatusIndexed = "indexed"
)

// ArticleRequest is the JSON body accepted by the article endpoints.
type ArticleRequest struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// ArticleResponse is returned once an article is accepted.
type ArticleResponse struct {
	Key       string `json:"key"`
	KeyHash   string `json:"key_hash"`
	Status    string `json:"status"`
	ArchiveID int64  `json:"archive_id,omitempty"`
}

// ArticleEvent is the Kafka payload consumed by every matcher's index
// consumer.
type ArticleEvent struct {
	Key        string    `json:"key"`
	KeyHash    string    `json:"key_hash"`
	Text       string    `json:"text"`
	ArchiveID  int64     `json:"archive_id,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}
