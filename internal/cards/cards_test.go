package cards

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"intelbrief/internal/core"
	"intelbrief/internal/normalize"
	"intelbrief/internal/store"
	"intelbrief/internal/syncer"
)

type stubAnalyst struct {
	calls  int
	result core.AnalysisResult
	err    error
}

func (s *stubAnalyst) Analyze(ctx context.Context, title, summary string) (core.AnalysisResult, error) {
	s.calls++
	if s.err != nil {
		return core.AnalysisResult{}, s.err
	}
	return s.result, nil
}

type stubIngest struct {
	calls   int
	records map[string][]normalize.RawRecord
}

func (s *stubIngest) FetchAll(ctx context.Context) (map[string][]normalize.RawRecord, error) {
	s.calls++
	return s.records, nil
}

var beautyCategories = []core.Category{{Key: "beauty", Label: "美妆"}}

func newTestAssembler(t *testing.T, an *stubAnalyst, ingest *stubIngest, categories []core.Category) (*Assembler, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	n := normalize.New()
	sy := syncer.New(st, ingest, n)
	return New(sy, st, an, n, categories), st
}

func TestBuildEndToEnd(t *testing.T) {
	an := &stubAnalyst{result: core.AnalysisResult{
		Polarity: core.PolarityNeutral,
		Impacts:  []core.Impact{},
		Opinion:  "x",
		Tags:     []string{"t"},
	}}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{
		"beauty": {{"title": "玻色因国产化", "url": "u1"}},
	}}
	asm, _ := newTestAssembler(t, an, ingest, beautyCategories)
	ctx := context.Background()

	listing, err := asm.Build(ctx, Options{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(listing) != 1 {
		t.Fatalf("expected 1 card, got %d", len(listing))
	}

	card := listing[0]
	if card.Title != "玻色因国产化" {
		t.Errorf("title = %q", card.Title)
	}
	if card.SourceURL != "u1" {
		t.Errorf("source url = %q", card.SourceURL)
	}
	if card.Opinion != "x" {
		t.Errorf("opinion = %q", card.Opinion)
	}
	if !containsTag(card.Tags, "t") || !containsTag(card.Tags, "美妆") {
		t.Errorf("tags should include the verdict tag and the category label, got %v", card.Tags)
	}
	if an.calls != 1 {
		t.Fatalf("expected exactly one analysis call, got %d", an.calls)
	}

	// Second build on the same day: no upstream refetch, no re-analysis.
	listing, err = asm.Build(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 1 {
		t.Fatalf("expected 1 card on second build, got %d", len(listing))
	}
	if an.calls != 1 {
		t.Errorf("analysis must be memoized across builds, got %d calls", an.calls)
	}
	if ingest.calls != 1 {
		t.Errorf("same-day builds must not refetch, got %d calls", ingest.calls)
	}
	if listing[0].Opinion != "x" {
		t.Errorf("cached opinion = %q", listing[0].Opinion)
	}
}

func TestBuildAnalysisFailureIsNotCached(t *testing.T) {
	an := &stubAnalyst{err: errors.New("model unavailable")}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{
		"beauty": {{"title": "标题", "summary": "摘要内容", "url": "u1"}},
	}}
	asm, st := newTestAssembler(t, an, ingest, beautyCategories)
	ctx := context.Background()

	listing, err := asm.Build(ctx, Options{})
	if err != nil {
		t.Fatalf("analyst failure must not fail the listing: %v", err)
	}
	if len(listing) != 1 {
		t.Fatalf("expected fallback card, got %d cards", len(listing))
	}
	if listing[0].Opinion != "分析引擎响应异常" {
		t.Errorf("expected fallback opinion, got %q", listing[0].Opinion)
	}
	if listing[0].Polarity != core.PolarityNeutral {
		t.Errorf("fallback polarity = %q", listing[0].Polarity)
	}

	cached, err := st.GetAnalysis(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cached != nil {
		t.Fatal("a failed analysis must never be persisted")
	}

	// Analyst recovers: the next build retries and succeeds.
	an.err = nil
	an.result = core.AnalysisResult{Polarity: core.PolarityPositive, Impacts: []core.Impact{}, Tags: []string{}, Opinion: "恢复"}

	listing, err = asm.Build(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if listing[0].Opinion != "恢复" {
		t.Errorf("recovered opinion = %q", listing[0].Opinion)
	}
	if an.calls != 2 {
		t.Errorf("expected a retry after failure, got %d calls", an.calls)
	}
}

func TestBuildSkipAnalysis(t *testing.T) {
	an := &stubAnalyst{}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{
		"beauty": {{"title": "标题", "summary": "摘要", "url": "u1"}},
	}}
	asm, _ := newTestAssembler(t, an, ingest, beautyCategories)

	listing, err := asm.Build(context.Background(), Options{SkipAnalysis: true})
	if err != nil {
		t.Fatal(err)
	}
	if an.calls != 0 {
		t.Errorf("skip mode must not touch the analyst, got %d calls", an.calls)
	}
	if len(listing) != 1 {
		t.Fatalf("expected 1 card, got %d", len(listing))
	}
	if listing[0].Polarity != core.PolarityNeutral {
		t.Errorf("skip mode polarity = %q", listing[0].Polarity)
	}
	if listing[0].Fact != "摘要" {
		t.Errorf("skip mode fact should be the summary, got %q", listing[0].Fact)
	}
}

func TestBuildCapsCardsPerCategory(t *testing.T) {
	records := make([]normalize.RawRecord, 0, 5)
	for i := 1; i <= 5; i++ {
		records = append(records, normalize.RawRecord{
			"title": fmt.Sprintf("标题 %d", i),
			"url":   fmt.Sprintf("https://example.com/a%d", i),
		})
	}
	an := &stubAnalyst{result: core.AnalysisResult{Polarity: core.PolarityNeutral, Impacts: []core.Impact{}, Tags: []string{}}}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{"beauty": records}}
	asm, _ := newTestAssembler(t, an, ingest, beautyCategories)

	listing, err := asm.Build(context.Background(), Options{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 3 {
		t.Fatalf("one category may contribute at most 3 cards, got %d", len(listing))
	}
}

func TestBuildCategoryOrderAndFilter(t *testing.T) {
	categories := []core.Category{
		{Key: "legal", Label: "法律法规"},
		{Key: "brand", Label: "品牌"},
	}
	an := &stubAnalyst{result: core.AnalysisResult{Polarity: core.PolarityNeutral, Impacts: []core.Impact{}, Tags: []string{}}}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{
		"legal": {{"title": "法规文章", "url": "https://example.com/l"}},
		"brand": {{"title": "品牌文章", "url": "https://example.com/b"}},
	}}
	asm, _ := newTestAssembler(t, an, ingest, categories)
	ctx := context.Background()

	listing, err := asm.Build(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(listing))
	}
	if listing[0].Title != "法规文章" || listing[1].Title != "品牌文章" {
		t.Errorf("cards must follow configured category order, got %q then %q", listing[0].Title, listing[1].Title)
	}

	filtered, err := asm.Build(ctx, Options{Category: "brand"})
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Title != "品牌文章" {
		t.Fatalf("category filter broken: %+v", filtered)
	}

	unknown, err := asm.Build(ctx, Options{Category: "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown category should yield an empty listing, got %d", len(unknown))
	}
}

func TestBuildGlobalLimitStarvesLaterCategories(t *testing.T) {
	categories := []core.Category{
		{Key: "legal", Label: "法律法规"},
		{Key: "brand", Label: "品牌"},
	}
	an := &stubAnalyst{result: core.AnalysisResult{Polarity: core.PolarityNeutral, Impacts: []core.Impact{}, Tags: []string{}}}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{
		"legal": {{"title": "法规一", "url": "https://example.com/l1"}},
		"brand": {{"title": "品牌一", "url": "https://example.com/b1"}},
	}}
	asm, _ := newTestAssembler(t, an, ingest, categories)

	listing, err := asm.Build(context.Background(), Options{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 1 {
		t.Fatalf("the limit caps the whole listing, got %d cards", len(listing))
	}
	if listing[0].Title != "法规一" {
		t.Errorf("earlier categories fill the budget first, got %q", listing[0].Title)
	}
}

func TestBuildDropsInvalidStoredArticles(t *testing.T) {
	an := &stubAnalyst{result: core.AnalysisResult{Polarity: core.PolarityNeutral, Impacts: []core.Impact{}, Tags: []string{}}}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{}}
	asm, st := newTestAssembler(t, an, ingest, beautyCategories)
	ctx := context.Background()

	// A row whose payload no longer resolves a title.
	bad := core.Article{
		ID:         1,
		SourceURL:  "https://example.com/bad",
		Title:      "曾经有标题",
		RawPayload: []byte(`{"summary": "标题字段丢了"}`),
	}
	good := core.Article{
		ID:         2,
		SourceURL:  "https://example.com/good",
		Title:      "完整文章",
		RawPayload: []byte(`{"title": "完整文章", "url": "https://example.com/good"}`),
	}
	if err := st.UpsertArticles(ctx, "beauty", []core.Article{bad, good}); err != nil {
		t.Fatal(err)
	}

	listing, err := asm.Build(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listing) != 1 || listing[0].Title != "完整文章" {
		t.Fatalf("invalid stored article should be dropped, got %+v", listing)
	}
}

func TestRawDataUnknownCategory(t *testing.T) {
	an := &stubAnalyst{}
	ingest := &stubIngest{records: map[string][]normalize.RawRecord{}}
	asm, _ := newTestAssembler(t, an, ingest, beautyCategories)

	if _, err := asm.RawData(context.Background(), "nope", 10); err == nil {
		t.Fatal("unknown category must be an error for raw data")
	}
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
