// Package normalize maps arbitrarily shaped upstream records into canonical
// articles. Upstream records are duck typed: key names vary between feed
// generations and the interesting fields often hide inside a JSON-encoded
// info sub-object, so every attribute is resolved through an ordered list of
// candidate locations instead of a single fixed path.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"intelbrief/internal/core"

	"github.com/PuerkitoBio/goquery"
)

// ErrRejected marks a record that cannot produce an Article. Rejection is a
// skip signal, not a failure of the pipeline.
var ErrRejected = errors.New("record rejected: no resolvable title")

// RawRecord is one upstream item as delivered by the ingestion endpoint.
type RawRecord map[string]any

// idHashWidth bounds derived ids to nine decimal digits. The id is a display
// convenience; SourceURL is the identity key, so weak collision resistance
// is acceptable here.
const idHashWidth = 1_000_000_000

// Candidate key chains, in priority order. The info sub-object (when it
// parses) is consulted before the flat field names.
var (
	titleInfoKeys   = []string{"文章标题", "title"}
	titleFieldKeys  = []string{"文章标题-moss用", "文章标题", "title", "标题"}
	summaryInfoKeys = []string{"摘要", "summary"}
	summaryFields   = []string{"摘要", "summary", "描述"}
	contentInfoKeys = []string{"内容", "正文", "content"}
	contentFields   = []string{"内容", "正文", "content"}
	sourceInfoKeys  = []string{"作者名称", "公众号名称", "source_name"}
	sourceFields    = []string{"作者名称", "source_name", "作者"}
	urlInfoKeys     = []string{"文章URL", "原文链接", "url"}
	urlFields       = []string{"文章URL", "source_url", "url", "链接"}
	idFields        = []string{"自增ID", "id", "ID"}
	publishedInfo   = []string{"发布时间", "published_at"}
	publishedFields = []string{"发布时间", "published_at", "publish_time"}
)

var publishedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04",
}

// Normalizer converts raw records into canonical Articles.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize resolves a raw record into an Article for the given category,
// or returns ErrRejected when no usable title can be found. No partial
// Article is ever produced.
func (n *Normalizer) Normalize(raw RawRecord, categoryKey string) (core.Article, error) {
	fields := subMap(raw, "fields")
	if fields == nil {
		fields = map[string]any(raw)
	}

	// The info sub-object is a JSON-encoded string in most feed
	// generations. A parse failure degrades to "absent", never to an
	// error: the flat candidates still get their turn.
	info := nestedInfo(fields)

	title := firstString(info, titleInfoKeys, fields, titleFieldKeys)
	if title == "" {
		return core.Article{}, ErrRejected
	}

	summary := StripHTML(firstString(info, summaryInfoKeys, fields, summaryFields))
	content := StripHTML(firstString(info, contentInfoKeys, fields, contentFields))
	if content == "" {
		content = summary
	}
	sourceName := firstString(info, sourceInfoKeys, fields, sourceFields)
	sourceURL := firstString(info, urlInfoKeys, fields, urlFields)

	article := core.Article{
		Title:       title,
		Summary:     summary,
		Content:     content,
		SourceName:  sourceName,
		SourceURL:   sourceURL,
		CategoryKey: categoryKey,
	}

	if id, ok := explicitID(fields); ok {
		article.ID = id
	} else {
		article.ID = DeriveID(title, sourceURL)
	}

	if ts := firstString(info, publishedInfo, fields, publishedFields); ts != "" {
		if t, err := parsePublished(ts); err == nil {
			article.PublishedAt = &t
		}
	}

	if payload, err := json.Marshal(raw); err == nil {
		article.RawPayload = payload
	}

	return article, nil
}

// Revalidate re-runs normalization for a stored article, preferring its raw
// payload when present. Articles whose payload no longer resolves a title
// are rejected the same way fresh records are.
func (n *Normalizer) Revalidate(a core.Article) (core.Article, error) {
	if len(a.RawPayload) > 0 {
		var raw RawRecord
		if err := json.Unmarshal(a.RawPayload, &raw); err == nil {
			norm, err := n.Normalize(raw, a.CategoryKey)
			if err != nil {
				return core.Article{}, err
			}
			// Stored row wins on identity and timestamps.
			norm.ID = a.ID
			norm.SourceURL = a.SourceURL
			norm.IngestedAt = a.IngestedAt
			norm.Analysis = a.Analysis
			return norm, nil
		}
	}
	if strings.TrimSpace(a.Title) == "" {
		return core.Article{}, ErrRejected
	}
	return a, nil
}

// DeriveID produces a stable numeric id from title and source URL. The same
// inputs always yield the same id.
func DeriveID(title, sourceURL string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(title))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(sourceURL))
	return int64(h.Sum64() % idHashWidth)
}

// StripHTML removes markup from a fragment, returning the visible text. Input
// without angle brackets passes through untouched.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func nestedInfo(fields map[string]any) map[string]any {
	for _, key := range []string{"文章信息", "article_info", "info"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			return val
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(val), &m); err == nil {
				return m
			}
		}
	}
	return nil
}

func subMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// firstString walks the info chain first, then the flat field chain, and
// returns the first non-empty string value.
func firstString(info map[string]any, infoKeys []string, fields map[string]any, fieldKeys []string) string {
	for _, k := range infoKeys {
		if s := asString(info[k]); s != "" {
			return s
		}
	}
	for _, k := range fieldKeys {
		if s := asString(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func explicitID(fields map[string]any) (int64, bool) {
	for _, k := range idFields {
		v, ok := fields[k]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int64(val), true
		case int64:
			return val, true
		case json.Number:
			if id, err := val.Int64(); err == nil {
				return id, true
			}
		case string:
			if id, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

func parsePublished(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
