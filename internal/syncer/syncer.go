// Package syncer decides when stored articles are too old to serve and
// refreshes them from the upstream feed before reads go out.
package syncer

import (
	"context"
	"errors"
	"time"

	"intelbrief/internal/core"
	"intelbrief/internal/logger"
	"intelbrief/internal/normalize"
	"intelbrief/internal/store"
)

// DefaultFetchLimit is the per-category row budget when the caller does not
// specify one.
const DefaultFetchLimit = 20

// IngestClient fetches the upstream feed, already split by category key.
type IngestClient interface {
	FetchAll(ctx context.Context) (map[string][]normalize.RawRecord, error)
}

// Syncer gates reads behind a freshness check: a category whose newest row
// was not ingested today (server-local calendar day) is refreshed before
// serving. Upstream failures degrade to serving whatever is stored.
type Syncer struct {
	store      store.Store
	ingest     IngestClient
	normalizer *normalize.Normalizer

	// now is swappable in tests to control the staleness clock.
	now func() time.Time
}

func New(st store.Store, ingest IngestClient, n *normalize.Normalizer) *Syncer {
	return &Syncer{
		store:      st,
		ingest:     ingest,
		normalizer: n,
		now:        time.Now,
	}
}

// EnsureFresh returns up to limit articles per category, ranked newest
// first, refreshing any category whose stored head is stale. The first
// ranked read doubles as the staleness probe, so the fresh path costs a
// single round trip and the refresh path costs two plus one upstream call.
// Store and upstream failures degrade to whatever data is reachable; the
// read itself never fails.
func (s *Syncer) EnsureFresh(ctx context.Context, categories []core.Category, limit int) (map[string][]core.Article, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	keys := make([]string, len(categories))
	for i, c := range categories {
		keys[i] = c.Key
	}

	batch, err := s.store.FetchRanked(ctx, keys, limit)
	if err != nil {
		// Treat every category as unsynced and try to rebuild from
		// upstream.
		logger.Error("ranked read failed", err, map[string]any{
			"categories": keys,
		})
		batch = map[string][]core.Article{}
	}

	stale := s.staleCategories(keys, batch)
	if len(stale) == 0 {
		return batch, nil
	}

	logger.Info("refreshing stale categories", map[string]any{
		"categories": stale,
	})

	if err := s.refresh(ctx, stale); err != nil {
		// Serve what we have rather than failing the read.
		logger.Error("upstream refresh failed, serving stored data", err, map[string]any{
			"categories": stale,
		})
		return batch, nil
	}

	refreshed, err := s.store.FetchRanked(ctx, keys, limit)
	if err != nil {
		logger.Error("post-sync read failed, serving pre-sync data", err, map[string]any{
			"categories": keys,
		})
		return batch, nil
	}
	return refreshed, nil
}

// Refresh forces an upstream fetch and upsert for every given category,
// ignoring staleness. Used by the sync command.
func (s *Syncer) Refresh(ctx context.Context, categories []core.Category) error {
	keys := make([]string, len(categories))
	for i, c := range categories {
		keys[i] = c.Key
	}
	return s.refresh(ctx, keys)
}

func (s *Syncer) refresh(ctx context.Context, keys []string) error {
	fetched, err := s.ingest.FetchAll(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		records := fetched[key]
		if len(records) == 0 {
			continue
		}

		articles := make([]core.Article, 0, len(records))
		for _, raw := range records {
			article, err := s.normalizer.Normalize(raw, key)
			if err != nil {
				if errors.Is(err, normalize.ErrRejected) {
					logger.Debug("skipping unusable record", map[string]any{
						"category": key,
					})
					continue
				}
				return err
			}
			articles = append(articles, article)
		}

		if err := s.store.UpsertArticles(ctx, key, articles); err != nil {
			return err
		}
		logger.Info("category refreshed", map[string]any{
			"category": key,
			"stored":   len(articles),
			"fetched":  len(records),
		})
	}
	return nil
}

// staleCategories returns the keys whose newest stored row predates the
// current server-local calendar day, plus keys with no rows at all.
func (s *Syncer) staleCategories(keys []string, batch map[string][]core.Article) []string {
	today := dayOf(s.now())

	var stale []string
	for _, key := range keys {
		rows := batch[key]
		if len(rows) == 0 {
			stale = append(stale, key)
			continue
		}
		if dayOf(rows[0].IngestedAt) != today {
			stale = append(stale, key)
		}
	}
	return stale
}

func dayOf(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
