package core

import (
	"encoding/json"
	"time"
)

// Polarity is the overall sentiment verdict the analyst assigns to an article.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

// Trend describes the expected direction for an impacted entity.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// Article is the canonical normalized record. Its identity is SourceURL:
// exactly one live row exists per source URL, and re-ingestion overwrites
// the mutable fields while bumping IngestedAt.
type Article struct {
	ID          int64           `json:"id"`                    // Display id; explicit upstream id or derived hash
	SourceName  string          `json:"source_name"`           // Publishing account/author name
	SourceURL   string          `json:"source_url"`            // Identity key, unique and stable
	Title       string          `json:"title"`                 // Resolved article title
	Summary     string          `json:"summary"`               // Short abstract
	Content     string          `json:"content"`               // Body text; falls back to Summary when absent
	CategoryKey string          `json:"category_key"`          // Partition key; reflects the latest normalization
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"` // Opaque original record
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	IngestedAt  time.Time       `json:"ingested_at"`
	Analysis    *AnalysisResult `json:"analysis,omitempty"` // nil until the analyst has run for this URL
}

// Impact is one entity-level consequence inside an analysis verdict.
type Impact struct {
	Entity string `json:"entity"`
	Trend  Trend  `json:"trend"`
	Reason string `json:"reason"`
}

// AnalysisResult is the structured LLM verdict attached to an Article.
// The zero value of AnalyzedAt means "never computed", which is distinct
// from a legitimately neutral/empty verdict.
type AnalysisResult struct {
	Polarity Polarity `json:"polarity"`
	Impacts  []Impact `json:"impacts"`
	Opinion  string   `json:"opinion"`
	Tags     []string `json:"tags"`
	// Fact is the analyst's one-line factual distillation. It is display
	// only and not persisted; cached reads fall back to the article summary.
	Fact       string    `json:"fact,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at,omitempty"`
}

// Card is the enriched listing entry served to callers.
type Card struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Polarity   Polarity  `json:"polarity"`
	Fact       string    `json:"fact"`
	Impacts    []Impact  `json:"impacts"`
	Opinion    string    `json:"opinion"`
	Tags       []string  `json:"tags"`
	SourceName string    `json:"source_name"`
	SourceURL  string    `json:"source_url"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Category is an externally configured partition of the article stream.
type Category struct {
	Key   string `json:"id"`
	Label string `json:"label"`
}

// Topic is a tracked subject on the bulletin board, accumulating evidence
// over time.
type Topic struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	CurrentVersion string          `json:"current_version"`
	ChannelKey     string          `json:"channel_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Evidence       []TopicEvidence `json:"evidence,omitempty"`
	Updates        []TopicUpdate   `json:"updates,omitempty"`
}

// TopicUpdate records one versioned revision of a Topic's working notes.
// Publishing an update also moves the parent topic's CurrentVersion forward.
type TopicUpdate struct {
	ID        int64     `json:"id"`
	TopicID   int64     `json:"topic_id"`
	Version   string    `json:"version"`
	Content   string    `json:"content,omitempty"`
	ChangeLog string    `json:"change_log,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TopicEvidence is one sourced note pinned to a Topic.
type TopicEvidence struct {
	ID            int64     `json:"id"`
	TopicID       int64     `json:"topic_id"`
	HighlightText string    `json:"highlight_text,omitempty"`
	Note          string    `json:"note"`
	SourceTitle   string    `json:"source_title,omitempty"`
	SourceURL     string    `json:"source_url,omitempty"`
	Confidence    string    `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}
