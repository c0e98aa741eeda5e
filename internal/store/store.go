// Package store is the durable persistence gateway. One logical interface is
// served by two interchangeable engines: an embedded SQLite file and a
// pooled Postgres connection, selected by configuration at process start.
// Both engines must produce identical output shape and ordering for
// identical data; the fixture-driven parity tests enforce that.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"intelbrief/internal/config"
	"intelbrief/internal/core"
)

// Store is the persistence gateway contract.
type Store interface {
	// UpsertArticles writes a batch for one category. Conflict key is
	// source_url: on conflict the mutable fields are overwritten and
	// ingested_at reset to now; analysis columns are left untouched.
	// A zero-item batch is a no-op.
	UpsertArticles(ctx context.Context, categoryKey string, articles []core.Article) error

	// FetchRanked returns, per requested category, at most limitPerCategory
	// articles ordered by ingested_at descending.
	FetchRanked(ctx context.Context, categoryKeys []string, limitPerCategory int) (map[string][]core.Article, error)

	// GetAnalysis returns the memoized verdict for a source URL, or nil when
	// the row is absent or its ai_analyzed_at marker is null. A nil result
	// with nil error is the authoritative "never computed" signal.
	GetAnalysis(ctx context.Context, sourceURL string) (*core.AnalysisResult, error)

	// PutAnalysis unconditionally overwrites all verdict fields and sets the
	// ai_analyzed_at marker. The write is all-or-nothing.
	PutAnalysis(ctx context.Context, sourceURL string, result core.AnalysisResult) error

	// Topic bulletin operations.
	ListTopics(ctx context.Context) ([]core.Topic, error)
	CreateTopic(ctx context.Context, title, description, channelKey string) (int64, error)
	GetTopicDetail(ctx context.Context, id int64) (*core.Topic, error)
	AddEvidence(ctx context.Context, topicID int64, ev core.TopicEvidence) (int64, error)
	AddTopicUpdate(ctx context.Context, topicID int64, up core.TopicUpdate) (int64, error)

	Close() error
}

// Open selects the engine configured for this process.
func Open(cfg config.Database, dataDir string) (Store, error) {
	switch cfg.Engine {
	case "sqlite":
		return NewSQLite(dataDir)
	case "postgres":
		return NewPostgres(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database engine %q", cfg.Engine)
	}
}

// articleColumns is the canonical select list. Both engines scan rows through
// scanArticle, so the order here is load bearing.
const articleColumns = `id, source_name, source_url, title, summary, content, category_key,
	raw_payload, published_at, ingested_at,
	ai_polarity, ai_impacts, ai_opinion, ai_tags, ai_analyzed_at`

func scanArticle(rows *sql.Rows) (core.Article, error) {
	var (
		a           core.Article
		id          sql.NullInt64
		sourceName  sql.NullString
		title       sql.NullString
		summary     sql.NullString
		content     sql.NullString
		categoryKey sql.NullString
		rawPayload  []byte
		publishedAt sql.NullTime
		aiPolarity  sql.NullString
		aiImpacts   sql.NullString
		aiOpinion   sql.NullString
		aiTags      sql.NullString
		aiAnalyzed  sql.NullTime
	)

	err := rows.Scan(&id, &sourceName, &a.SourceURL, &title, &summary, &content,
		&categoryKey, &rawPayload, &publishedAt, &a.IngestedAt,
		&aiPolarity, &aiImpacts, &aiOpinion, &aiTags, &aiAnalyzed)
	if err != nil {
		return core.Article{}, fmt.Errorf("scanning article row: %w", err)
	}

	a.ID = id.Int64
	a.SourceName = sourceName.String
	a.Title = title.String
	a.Summary = summary.String
	a.Content = content.String
	a.CategoryKey = categoryKey.String
	if len(rawPayload) > 0 {
		a.RawPayload = json.RawMessage(rawPayload)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		a.PublishedAt = &t
	}
	a.Analysis = decodeAnalysis(aiPolarity, aiImpacts, aiOpinion, aiTags, aiAnalyzed)
	return a, nil
}

// decodeAnalysis reconstructs a verdict from the row's analysis columns. The
// ai_analyzed_at marker alone decides whether a verdict exists; empty or
// default verdict fields are a legitimate cached result.
func decodeAnalysis(polarity, impacts, opinion, tags sql.NullString, analyzedAt sql.NullTime) *core.AnalysisResult {
	if !analyzedAt.Valid {
		return nil
	}
	result := &core.AnalysisResult{
		Polarity:   core.Polarity(polarity.String),
		Opinion:    opinion.String,
		Impacts:    []core.Impact{},
		Tags:       []string{},
		AnalyzedAt: analyzedAt.Time,
	}
	if result.Polarity == "" {
		result.Polarity = core.PolarityNeutral
	}
	if impacts.Valid && impacts.String != "" {
		_ = json.Unmarshal([]byte(impacts.String), &result.Impacts)
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &result.Tags)
	}
	return result
}

// encodeAnalysis serializes the list-valued verdict fields for storage.
func encodeAnalysis(result core.AnalysisResult) (impacts string, tags string, err error) {
	ib, err := json.Marshal(result.Impacts)
	if err != nil {
		return "", "", fmt.Errorf("marshaling impacts: %w", err)
	}
	tb, err := json.Marshal(result.Tags)
	if err != nil {
		return "", "", fmt.Errorf("marshaling tags: %w", err)
	}
	return string(ib), string(tb), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (core.Topic, error) {
	var t core.Topic
	var description, status, version, channel sql.NullString
	err := row.Scan(&t.ID, &t.Title, &description, &status, &version, &channel, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.Topic{}, err
	}
	t.Description = description.String
	t.Status = status.String
	t.CurrentVersion = version.String
	t.ChannelKey = channel.String
	return t, nil
}

func scanTopics(rows *sql.Rows) ([]core.Topic, error) {
	topics := []core.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func scanEvidence(rows *sql.Rows) ([]core.TopicEvidence, error) {
	evidence := []core.TopicEvidence{}
	for rows.Next() {
		var ev core.TopicEvidence
		var highlight, note, title, url, confidence sql.NullString
		err := rows.Scan(&ev.ID, &ev.TopicID, &highlight, &note, &title, &url, &confidence, &ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		ev.HighlightText = highlight.String
		ev.Note = note.String
		ev.SourceTitle = title.String
		ev.SourceURL = url.String
		ev.Confidence = confidence.String
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

func scanUpdates(rows *sql.Rows) ([]core.TopicUpdate, error) {
	updates := []core.TopicUpdate{}
	for rows.Next() {
		var up core.TopicUpdate
		var content, changeLog sql.NullString
		err := rows.Scan(&up.ID, &up.TopicID, &up.Version, &content, &changeLog, &up.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning topic update: %w", err)
		}
		up.Content = content.String
		up.ChangeLog = changeLog.String
		updates = append(updates, up)
	}
	return updates, rows.Err()
}

// topicSeeds populate the bulletin board on first run so the topic surface
// is usable before any manual curation happens.
var topicSeeds = []struct {
	title       string
	description string
	channelKey  string
}{
	{
		title:       "玻色因国产化进程",
		description: "Tracking domestic substitution progress for Pro-Xylane across suppliers and filings.",
		channelKey:  "beauty_alpha",
	},
	{
		title:       "李佳琦直播间选品逻辑",
		description: "Evidence on how top livestream channels pick and position beauty SKUs.",
		channelKey:  "beauty_alpha",
	},
}

func collectRanked(rows *sql.Rows, keys []string) (map[string][]core.Article, error) {
	out := make(map[string][]core.Article, len(keys))
	for _, k := range keys {
		out[k] = []core.Article{}
	}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out[a.CategoryKey] = append(out[a.CategoryKey], a)
	}
	return out, rows.Err()
}
