package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"intelbrief/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.Ingest{
		APIURL:      url,
		AccessToken: "test-token",
		ChainID:     1036,
	})
}

func TestFetchAllSendsExpectedRequest(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "0",
			"res_content":     map[string]any{"response": map[string]any{}},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["chainId"] != float64(1036) {
		t.Errorf("chainId = %v", gotBody["chainId"])
	}
	if gotBody["sync"] != true {
		t.Errorf("sync = %v", gotBody["sync"])
	}
	if gotBody["content"] != "内容" {
		t.Errorf("content = %v", gotBody["content"])
	}
}

func TestFetchAllStringEncodedMapping(t *testing.T) {
	mapping := `{"legal": [{"title": "新规落地"}], "brand": []}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "0",
			"res_content":     map[string]any{"response": mapping},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got["legal"]) != 1 {
		t.Fatalf("expected 1 legal record, got %d", len(got["legal"]))
	}
	if got["legal"][0]["title"] != "新规落地" {
		t.Errorf("record = %v", got["legal"][0])
	}
}

func TestFetchAllContentWrapper(t *testing.T) {
	inner := `{"digital": [{"title": "数字化转型"}]}`
	wrapper := map[string]any{"content": inner}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "0",
			"res_content":     map[string]any{"response": wrapper},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got["digital"]) != 1 {
		t.Fatalf("expected 1 digital record, got %v", got)
	}
}

func TestFetchAllBareListCoercesToDefaultCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "0",
			"res_content":     map[string]any{"response": `[{"title": "散装条目"}]`},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got[DefaultCategory]) != 1 {
		t.Fatalf("expected bare list under %q, got %v", DefaultCategory, got)
	}
}

func TestFetchAllNonSuccessStatusYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "500",
			"res_content":     map[string]any{"response": `{"legal": [{"title": "x"}]}`},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty mapping, got %v", got)
	}
}

func TestFetchAllSkipsMalformedCategoryValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"res_status_code": "0",
			"res_content": map[string]any{
				"response": `{"legal": [{"title": "ok"}], "brand": "not a list"}`,
			},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(got["legal"]) != 1 {
		t.Errorf("well-formed category lost: %v", got)
	}
	if _, ok := got["brand"]; ok {
		t.Errorf("malformed category should be skipped, got %v", got["brand"])
	}
}

func TestFetchAllTransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchAll(context.Background())
	if err == nil {
		t.Fatal("expected an error for non-200 response")
	}
}
