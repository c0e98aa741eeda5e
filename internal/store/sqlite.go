package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intelbrief/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the embedded engine. It holds no open connection: every
// call opens a fresh handle against the database file and closes it before
// returning, so there is no shared mutable connection state between
// requests. SQLite's file locking serializes concurrent writers.
type SQLiteStore struct {
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS raw_articles (
	source_url TEXT PRIMARY KEY,
	id INTEGER,
	source_name TEXT,
	title TEXT,
	summary TEXT,
	content TEXT,
	category_key TEXT,
	raw_payload TEXT,
	published_at DATETIME,
	ingested_at DATETIME NOT NULL,
	ai_polarity TEXT,
	ai_impacts TEXT,
	ai_opinion TEXT,
	ai_tags TEXT,
	ai_analyzed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_raw_articles_category
	ON raw_articles(category_key, ingested_at DESC);

CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT DEFAULT 'active',
	current_version TEXT DEFAULT '0.1',
	channel_key TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS topic_evidences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	highlight_text TEXT,
	note TEXT,
	source_title TEXT,
	source_url TEXT,
	confidence TEXT DEFAULT 'high',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS topic_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	version TEXT NOT NULL,
	content TEXT,
	change_log TEXT,
	created_at DATETIME NOT NULL
);`

// NewSQLite creates the data directory and initializes the schema, then
// returns a store that reopens the file per call.
func NewSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &SQLiteStore{path: filepath.Join(dataDir, "intelbrief.db")}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := seedTopicsSQLite(db); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Close is a no-op; handles are per call.
func (s *SQLiteStore) Close() error { return nil }

func (s *SQLiteStore) UpsertArticles(ctx context.Context, categoryKey string, articles []core.Article) error {
	if len(articles) == 0 {
		return nil
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO raw_articles
		(source_url, id, source_name, title, summary, content, category_key, raw_payload, published_at, ingested_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(source_url) DO UPDATE SET
		id = excluded.id,
		source_name = excluded.source_name,
		title = excluded.title,
		summary = excluded.summary,
		content = excluded.content,
		category_key = excluded.category_key,
		raw_payload = excluded.raw_payload,
		published_at = excluded.published_at,
		ingested_at = excluded.ingested_at`

	now := time.Now()
	for _, a := range articles {
		if a.SourceURL == "" {
			continue
		}
		var published any
		if a.PublishedAt != nil {
			published = *a.PublishedAt
		}
		_, err := tx.ExecContext(ctx, query,
			a.SourceURL, a.ID, a.SourceName, a.Title, a.Summary, a.Content,
			categoryKey, string(a.RawPayload), published, now)
		if err != nil {
			return fmt.Errorf("upserting article %s: %w", a.SourceURL, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FetchRanked(ctx context.Context, categoryKeys []string, limitPerCategory int) (map[string][]core.Article, error) {
	if len(categoryKeys) == 0 {
		return map[string][]core.Article{}, nil
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categoryKeys)), ",")
	query := fmt.Sprintf(`
	SELECT %s FROM (
		SELECT a.*, ROW_NUMBER() OVER (
			PARTITION BY category_key
			ORDER BY ingested_at DESC, id DESC
		) AS rank_in_category
		FROM raw_articles a
		WHERE category_key IN (%s)
	)
	WHERE rank_in_category <= ?
	ORDER BY category_key, rank_in_category`, articleColumns, placeholders)

	args := make([]any, 0, len(categoryKeys)+1)
	for _, k := range categoryKeys {
		args = append(args, k)
	}
	args = append(args, limitPerCategory)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching ranked articles: %w", err)
	}
	defer rows.Close()

	return collectRanked(rows, categoryKeys)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, sourceURL string) (*core.AnalysisResult, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `
	SELECT ai_polarity, ai_impacts, ai_opinion, ai_tags, ai_analyzed_at
	FROM raw_articles WHERE source_url = ?`, sourceURL)

	var polarity, impacts, opinion, tags sql.NullString
	var analyzedAt sql.NullTime
	err = row.Scan(&polarity, &impacts, &opinion, &tags, &analyzedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading analysis for %s: %w", sourceURL, err)
	}

	return decodeAnalysis(polarity, impacts, opinion, tags, analyzedAt), nil
}

func (s *SQLiteStore) PutAnalysis(ctx context.Context, sourceURL string, result core.AnalysisResult) error {
	impacts, tags, err := encodeAnalysis(result)
	if err != nil {
		return err
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, `
	UPDATE raw_articles
	SET ai_polarity = ?, ai_impacts = ?, ai_opinion = ?, ai_tags = ?, ai_analyzed_at = ?
	WHERE source_url = ?`,
		string(result.Polarity), impacts, result.Opinion, tags, time.Now(), sourceURL)
	if err != nil {
		return fmt.Errorf("writing analysis for %s: %w", sourceURL, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no article with source_url %s", sourceURL)
	}
	return nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context) ([]core.Topic, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
	SELECT id, title, description, status, current_version, channel_key, created_at, updated_at
	FROM topics ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	return scanTopics(rows)
}

func (s *SQLiteStore) CreateTopic(ctx context.Context, title, description, channelKey string) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	now := time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO topics (title, description, channel_key, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`, title, description, channelKey, now, now)
	if err != nil {
		return 0, fmt.Errorf("creating topic: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetTopicDetail(ctx context.Context, id int64) (*core.Topic, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	row := db.QueryRowContext(ctx, `
	SELECT id, title, description, status, current_version, channel_key, created_at, updated_at
	FROM topics WHERE id = ?`, id)

	topic, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading topic %d: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, `
	SELECT id, topic_id, highlight_text, note, source_title, source_url, confidence, created_at
	FROM topic_evidences WHERE topic_id = ? ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("reading evidence for topic %d: %w", id, err)
	}
	defer rows.Close()

	topic.Evidence, err = scanEvidence(rows)
	if err != nil {
		return nil, err
	}

	upRows, err := db.QueryContext(ctx, `
	SELECT id, topic_id, version, content, change_log, created_at
	FROM topic_updates WHERE topic_id = ? ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("reading updates for topic %d: %w", id, err)
	}
	defer upRows.Close()

	topic.Updates, err = scanUpdates(upRows)
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (s *SQLiteStore) AddEvidence(ctx context.Context, topicID int64, ev core.TopicEvidence) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	confidence := ev.Confidence
	if confidence == "" {
		confidence = "high"
	}
	now := time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO topic_evidences (topic_id, highlight_text, note, source_title, source_url, confidence, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		topicID, ev.HighlightText, ev.Note, ev.SourceTitle, ev.SourceURL, confidence, now)
	if err != nil {
		return 0, fmt.Errorf("adding evidence to topic %d: %w", topicID, err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE topics SET updated_at = ? WHERE id = ?`, now, topicID); err != nil {
		return 0, fmt.Errorf("touching topic %d: %w", topicID, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) AddTopicUpdate(ctx context.Context, topicID int64, up core.TopicUpdate) (int64, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	now := time.Now()
	res, err := db.ExecContext(ctx, `
	INSERT INTO topic_updates (topic_id, version, content, change_log, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		topicID, up.Version, up.Content, up.ChangeLog, now)
	if err != nil {
		return 0, fmt.Errorf("adding update to topic %d: %w", topicID, err)
	}

	// The new revision becomes the topic's current version.
	if _, err := db.ExecContext(ctx, `
	UPDATE topics SET current_version = ?, updated_at = ? WHERE id = ?`,
		up.Version, now, topicID); err != nil {
		return 0, fmt.Errorf("advancing topic %d version: %w", topicID, err)
	}
	return res.LastInsertId()
}

func seedTopicsSQLite(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM topics`).Scan(&count); err != nil {
		return fmt.Errorf("counting topics: %w", err)
	}
	if count > 0 {
		return nil
	}
	now := time.Now()
	for _, seed := range topicSeeds {
		_, err := db.Exec(`
		INSERT INTO topics (title, description, channel_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, seed.title, seed.description, seed.channelKey, now, now)
		if err != nil {
			return fmt.Errorf("seeding topics: %w", err)
		}
	}
	return nil
}
