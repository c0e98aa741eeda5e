package analyst

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"intelbrief/internal/core"
)

func TestParseVerdict(t *testing.T) {
	raw := `{
		"polarity": "Positive",
		"fact": "国产原料通过备案",
		"impacts": [{"entity": "本土供应商", "trend": "up", "reason": "准入放开"}],
		"opinion": "关注供应链切换窗口",
		"tags": ["原料", "备案"]
	}`

	result, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if result.Polarity != core.PolarityPositive {
		t.Errorf("polarity = %q", result.Polarity)
	}
	if len(result.Impacts) != 1 || result.Impacts[0].Trend != core.TrendUp {
		t.Errorf("impacts = %+v", result.Impacts)
	}
	if result.Opinion != "关注供应链切换窗口" {
		t.Errorf("opinion = %q", result.Opinion)
	}
	if result.Fact != "国产原料通过备案" {
		t.Errorf("fact = %q", result.Fact)
	}
}

func TestParseVerdictStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"polarity\": \"negative\", \"opinion\": \"o\"}\n```"

	result, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if result.Polarity != core.PolarityNegative {
		t.Errorf("polarity = %q", result.Polarity)
	}
}

func TestParseVerdictLegacyInsightField(t *testing.T) {
	raw := `{"polarity": "neutral", "actionable_insight": "旧字段内容"}`

	result, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if result.Opinion != "旧字段内容" {
		t.Errorf("legacy insight not renamed, opinion = %q", result.Opinion)
	}
}

func TestParseVerdictDefaults(t *testing.T) {
	result, err := parseVerdict(`{"polarity": "unknown-word"}`)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if result.Polarity != core.PolarityNeutral {
		t.Errorf("unrecognized polarity should default to neutral, got %q", result.Polarity)
	}
	if result.Impacts == nil || result.Tags == nil {
		t.Error("impacts and tags must be non-nil")
	}
}

func TestParseVerdictRejectsNonJSON(t *testing.T) {
	if _, err := parseVerdict("I'm sorry, I can't do that."); err == nil {
		t.Fatal("expected error for prose output")
	}
}

func TestFallbackVerdict(t *testing.T) {
	summary := strings.Repeat("长", 60)
	result := Fallback("标题", summary)

	if result.Polarity != core.PolarityNeutral {
		t.Errorf("polarity = %q", result.Polarity)
	}
	if result.Opinion != "分析引擎响应异常" {
		t.Errorf("opinion = %q", result.Opinion)
	}
	if got := len([]rune(result.Fact)); got != 40 {
		t.Errorf("fact should truncate to 40 runes, got %d", got)
	}
	if len(result.Impacts) != 0 || len(result.Tags) != 0 {
		t.Errorf("fallback must carry empty impacts and tags")
	}
	if !result.AnalyzedAt.IsZero() {
		t.Error("fallback must not look like a computed verdict")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	if got := LoadSystemPrompt(""); got != DefaultSystemPrompt {
		t.Errorf("empty path should yield default, got %q", got)
	}
	if got := LoadSystemPrompt("does/not/exist.md"); got != DefaultSystemPrompt {
		t.Errorf("missing file should yield default, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "prompt.md")
	if err := os.WriteFile(path, []byte("custom instructions"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := LoadSystemPrompt(path); got != "custom instructions" {
		t.Errorf("prompt file not loaded, got %q", got)
	}
}
