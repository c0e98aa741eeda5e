package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"intelbrief/internal/core"

	_ "github.com/lib/pq"
)

// PostgresStore is the networked engine. A single bounded pool is opened
// lazily on first use and shared by all calls for the process lifetime.
type PostgresStore struct {
	dsn string

	once    sync.Once
	db      *sql.DB
	initErr error
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS raw_articles (
	source_url TEXT PRIMARY KEY,
	id BIGINT,
	source_name TEXT,
	title TEXT,
	summary TEXT,
	content TEXT,
	category_key TEXT,
	raw_payload JSONB,
	published_at TIMESTAMPTZ,
	ingested_at TIMESTAMPTZ NOT NULL,
	ai_polarity TEXT,
	ai_impacts TEXT,
	ai_opinion TEXT,
	ai_tags TEXT,
	ai_analyzed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_raw_articles_category
	ON raw_articles(category_key, ingested_at DESC);

CREATE TABLE IF NOT EXISTS topics (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT DEFAULT 'active',
	current_version TEXT DEFAULT '0.1',
	channel_key TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS topic_evidences (
	id BIGSERIAL PRIMARY KEY,
	topic_id BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	highlight_text TEXT,
	note TEXT,
	source_title TEXT,
	source_url TEXT,
	confidence TEXT DEFAULT 'high',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS topic_updates (
	id BIGSERIAL PRIMARY KEY,
	topic_id BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	version TEXT NOT NULL,
	content TEXT,
	change_log TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`

// NewPostgres validates the DSN shape but defers connecting until the first
// operation needs the pool.
func NewPostgres(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres engine requires a connection URL")
	}
	return &PostgresStore{dsn: dsn}, nil
}

// conn initializes the shared pool exactly once: open, bound, ping, and
// ensure the schema exists. Later calls reuse the same pool or the same
// initialization error.
func (s *PostgresStore) conn() (*sql.DB, error) {
	s.once.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("failed to open database: %w", err)
			return
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("failed to ping database: %w", err)
			return
		}
		if _, err := db.Exec(postgresSchema); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("failed to initialize schema: %w", err)
			return
		}
		if err := seedTopicsPostgres(db); err != nil {
			db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.db, s.initErr
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) UpsertArticles(ctx context.Context, categoryKey string, articles []core.Article) error {
	if len(articles) == 0 {
		return nil
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT INTO raw_articles
		(source_url, id, source_name, title, summary, content, category_key, raw_payload, published_at, ingested_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (source_url) DO UPDATE SET
		id = EXCLUDED.id,
		source_name = EXCLUDED.source_name,
		title = EXCLUDED.title,
		summary = EXCLUDED.summary,
		content = EXCLUDED.content,
		category_key = EXCLUDED.category_key,
		raw_payload = EXCLUDED.raw_payload,
		published_at = EXCLUDED.published_at,
		ingested_at = EXCLUDED.ingested_at`

	now := time.Now()
	for _, a := range articles {
		if a.SourceURL == "" {
			continue
		}
		var published any
		if a.PublishedAt != nil {
			published = *a.PublishedAt
		}
		payload := string(a.RawPayload)
		if payload == "" {
			payload = "{}"
		}
		_, err := tx.ExecContext(ctx, query,
			a.SourceURL, a.ID, a.SourceName, a.Title, a.Summary, a.Content,
			categoryKey, payload, published, now)
		if err != nil {
			return fmt.Errorf("upserting article %s: %w", a.SourceURL, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) FetchRanked(ctx context.Context, categoryKeys []string, limitPerCategory int) (map[string][]core.Article, error) {
	if len(categoryKeys) == 0 {
		return map[string][]core.Article{}, nil
	}

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(categoryKeys))
	args := make([]any, 0, len(categoryKeys)+1)
	for i, k := range categoryKeys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args = append(args, k)
	}
	args = append(args, limitPerCategory)

	query := fmt.Sprintf(`
	SELECT %s FROM (
		SELECT a.*, ROW_NUMBER() OVER (
			PARTITION BY category_key
			ORDER BY ingested_at DESC, id DESC
		) AS rank_in_category
		FROM raw_articles a
		WHERE category_key IN (%s)
	) ranked
	WHERE rank_in_category <= $%d
	ORDER BY category_key, rank_in_category`,
		articleColumns, strings.Join(placeholders, ", "), len(categoryKeys)+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching ranked articles: %w", err)
	}
	defer rows.Close()

	return collectRanked(rows, categoryKeys)
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, sourceURL string) (*core.AnalysisResult, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
	SELECT ai_polarity, ai_impacts, ai_opinion, ai_tags, ai_analyzed_at
	FROM raw_articles WHERE source_url = $1`, sourceURL)

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

func (s *PostgresStore) PutAnalysis(ctx context.Context, sourceURL string, result core.AnalysisResult) error {
	impacts, tags, err := encodeAnalysis(result)
	if err != nil {
		return err
	}

	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
	UPDATE raw_articles
	SET ai_polarity = $1, ai_impacts = $2, ai_opinion = $3, ai_tags = $4, ai_analyzed_at = $5
	WHERE source_url = $6`,
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

func (s *PostgresStore) ListTopics(ctx context.Context) ([]core.Topic, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
	SELECT id, title, description, status, current_version, channel_key, created_at, updated_at
	FROM topics ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing topics: %w", err)
	}
	defer rows.Close()

	return scanTopics(rows)
}

func (s *PostgresStore) CreateTopic(ctx context.Context, title, description, channelKey string) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var id int64
	err = db.QueryRowContext(ctx, `
	INSERT INTO topics (title, description, channel_key, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5) RETURNING id`, title, description, channelKey, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating topic: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTopicDetail(ctx context.Context, id int64) (*core.Topic, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
	SELECT id, title, description, status, current_version, channel_key, created_at, updated_at
	FROM topics WHERE id = $1`, id)

	topic, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading topic %d: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, `
	SELECT id, topic_id, highlight_text, note, source_title, source_url, confidence, created_at
	FROM topic_evidences WHERE topic_id = $1 ORDER BY created_at DESC, id DESC`, id)
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
	FROM topic_updates WHERE topic_id = $1 ORDER BY created_at DESC, id DESC`, id)
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

func (s *PostgresStore) AddEvidence(ctx context.Context, topicID int64, ev core.TopicEvidence) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	confidence := ev.Confidence
	if confidence == "" {
		confidence = "high"
	}
	now := time.Now()
	var id int64
	err = db.QueryRowContext(ctx, `
	INSERT INTO topic_evidences (topic_id, highlight_text, note, source_title, source_url, confidence, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		topicID, ev.HighlightText, ev.Note, ev.SourceTitle, ev.SourceURL, confidence, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding evidence to topic %d: %w", topicID, err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE topics SET updated_at = $1 WHERE id = $2`, now, topicID); err != nil {
		return 0, fmt.Errorf("touching topic %d: %w", topicID, err)
	}
	return id, nil
}

func (s *PostgresStore) AddTopicUpdate(ctx context.Context, topicID int64, up core.TopicUpdate) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	var id int64
	err = db.QueryRowContext(ctx, `
	INSERT INTO topic_updates (topic_id, version, content, change_log, created_at)
	VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		topicID, up.Version, up.Content, up.ChangeLog, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("adding update to topic %d: %w", topicID, err)
	}

	// The new revision becomes the topic's current version.
	if _, err := db.ExecContext(ctx, `
	UPDATE topics SET current_version = $1, updated_at = $2 WHERE id = $3`,
		up.Version, now, topicID); err != nil {
		return 0, fmt.Errorf("advancing topic %d version: %w", topicID, err)
	}
	return id, nil
}

func seedTopicsPostgres(db *sql.DB) error {
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
		VALUES ($1, $2, $3, $4, $5)`, seed.title, seed.description, seed.channelKey, now, now)
		if err != nil {
			return fmt.Errorf("seeding topics: %w", err)
		}
	}
	return nil
}
