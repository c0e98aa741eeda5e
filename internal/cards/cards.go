// Package cards turns freshly synced articles into enriched intelligence
// cards, computing and memoizing one analyst verdict per article URL.
package cards

import (
	"context"
	"errors"

	"intelbrief/internal/analyst"
	"intelbrief/internal/core"
	"intelbrief/internal/logger"
	"intelbrief/internal/normalize"
	"intelbrief/internal/store"
	"intelbrief/internal/syncer"
)

// maxPerCategory caps how many cards a single category contributes to one
// listing, so a noisy feed cannot crowd out the rest.
const maxPerCategory = 3

// Options controls one listing build.
type Options struct {
	// Limit caps the total number of cards in the listing. It also bounds
	// the per-category fetch depth handed to the sync layer.
	Limit int
	// SkipAnalysis serves neutral cards without touching the analyst.
	SkipAnalysis bool
	// Category restricts the listing to one category key when non-empty.
	Category string
}

// Assembler builds card listings on top of the sync and analysis layers.
type Assembler struct {
	syncer     *syncer.Syncer
	store      store.Store
	analyst    analyst.Analyst
	normalizer *normalize.Normalizer
	categories []core.Category
}

func New(sy *syncer.Syncer, st store.Store, an analyst.Analyst, n *normalize.Normalizer, categories []core.Category) *Assembler {
	return &Assembler{
		syncer:     sy,
		store:      st,
		analyst:    an,
		normalizer: n,
		categories: categories,
	}
}

// Build returns the enriched listing. Categories appear in their configured
// order; inside a category, cards are ranked newest first. The listing stops
// once opts.Limit cards have been produced, so a tight limit starves later
// categories. Articles that no longer pass normalization are dropped from
// the listing without touching the stored row.
func (a *Assembler) Build(ctx context.Context, opts Options) ([]core.Card, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = syncer.DefaultFetchLimit
	}

	categories := a.selectCategories(opts.Category)
	if len(categories) == 0 {
		return []core.Card{}, nil
	}

	batch, err := a.syncer.EnsureFresh(ctx, categories, limit)
	if err != nil {
		return nil, err
	}

	cards := []core.Card{}
	for _, category := range categories {
		if len(cards) >= limit {
			break
		}
		taken := 0
		for _, article := range batch[category.Key] {
			if taken >= maxPerCategory || len(cards) >= limit {
				break
			}

			checked, err := a.normalizer.Revalidate(article)
			if err != nil {
				logger.Warn("dropping stored article that fails validation", map[string]any{
					"source_url": article.SourceURL,
					"category":   category.Key,
				})
				continue
			}

			var result core.AnalysisResult
			if opts.SkipAnalysis {
				result = neutralResult(checked)
			} else {
				result = a.resolveAnalysis(ctx, checked)
			}

			cards = append(cards, buildCard(checked, result, category.Label))
			taken++
		}
	}
	return cards, nil
}

// resolveAnalysis returns the memoized verdict for the article, computing
// and persisting it on a miss. Analyst failures produce a throwaway
// fallback verdict that is never written back, so the next request retries.
func (a *Assembler) resolveAnalysis(ctx context.Context, article core.Article) core.AnalysisResult {
	if article.Analysis != nil {
		return *article.Analysis
	}

	// The ranked read may be behind a concurrent writer; check the cache
	// once more before paying for a model call.
	cached, err := a.store.GetAnalysis(ctx, article.SourceURL)
	if err != nil {
		logger.Error("analysis cache read failed", err, map[string]any{
			"source_url": article.SourceURL,
		})
	}
	if cached != nil {
		return *cached
	}

	result, err := a.analyst.Analyze(ctx, article.Title, article.Summary)
	if err != nil {
		logger.Error("analysis failed, serving fallback", err, map[string]any{
			"source_url": article.SourceURL,
		})
		return analyst.Fallback(article.Title, article.Summary)
	}

	if err := a.store.PutAnalysis(ctx, article.SourceURL, result); err != nil {
		logger.Error("failed to persist analysis", err, map[string]any{
			"source_url": article.SourceURL,
		})
	}
	return result
}

func (a *Assembler) selectCategories(filter string) []core.Category {
	if filter == "" {
		return a.categories
	}
	for _, c := range a.categories {
		if c.Key == filter {
			return []core.Category{c}
		}
	}
	return nil
}

// RawData returns the stored, un-enriched articles for one category (or all
// when key is empty), freshness-gated the same way the listing is.
func (a *Assembler) RawData(ctx context.Context, key string, limit int) (map[string][]core.Article, error) {
	categories := a.selectCategories(key)
	if len(categories) == 0 {
		if key != "" {
			return nil, errors.New("unknown category: " + key)
		}
		return map[string][]core.Article{}, nil
	}
	return a.syncer.EnsureFresh(ctx, categories, limit)
}

// Categories exposes the configured partition set in declaration order.
func (a *Assembler) Categories() []core.Category {
	return a.categories
}

func neutralResult(article core.Article) core.AnalysisResult {
	return core.AnalysisResult{
		Polarity: core.PolarityNeutral,
		Impacts:  []core.Impact{},
		Opinion:  "",
		Tags:     []string{},
		Fact:     article.Summary,
	}
}

func buildCard(article core.Article, result core.AnalysisResult, label string) core.Card {
	fact := result.Fact
	if fact == "" {
		fact = article.Summary
	}

	tags := make([]string, 0, len(result.Tags)+1)
	tags = append(tags, result.Tags...)
	if !contains(tags, label) {
		tags = append(tags, label)
	}

	impacts := result.Impacts
	if impacts == nil {
		impacts = []core.Impact{}
	}

	return core.Card{
		ID:         article.ID,
		Title:      article.Title,
		Polarity:   result.Polarity,
		Fact:       fact,
		Impacts:    impacts,
		Opinion:    result.Opinion,
		Tags:       tags,
		SourceName: article.SourceName,
		SourceURL:  article.SourceURL,
		IngestedAt: article.IngestedAt,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
