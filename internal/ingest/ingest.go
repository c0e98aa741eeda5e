// Package ingest talks to the upstream content-aggregation endpoint. The
// endpoint wraps its payload in a nested envelope; any shape mismatch or
// non-success status degrades to an empty mapping rather than an error, so
// callers only ever see transport failures.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"intelbrief/internal/config"
	"intelbrief/internal/logger"
	"intelbrief/internal/normalize"
)

// statusSuccess is the envelope's success sentinel.
const statusSuccess = "0"

// DefaultCategory receives items when the endpoint returns a bare list
// instead of a category mapping.
const DefaultCategory = "insight"

// Client calls the aggregation endpoint.
type Client struct {
	apiURL  string
	token   string
	chainID int
	content string
	client  *http.Client
}

// NewClient builds a Client from ingest configuration. The request timeout
// is fixed at construction; a timeout is treated like any other failure.
func NewClient(cfg config.Ingest) *Client {
	timeout := 30 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}
	content := cfg.Content
	if content == "" {
		content = "内容"
	}
	return &Client{
		apiURL:  cfg.APIURL,
		token:   cfg.AccessToken,
		chainID: cfg.ChainID,
		content: content,
		client:  &http.Client{Timeout: timeout},
	}
}

type fetchRequest struct {
	Content string `json:"content"`
	ChainID int    `json:"chainId"`
	Sync    bool   `json:"sync"`
}

type envelope struct {
	ResStatusCode string `json:"res_status_code"`
	ResContent    struct {
		Response json.RawMessage `json:"response"`
	} `json:"res_content"`
}

// FetchAll performs one synchronous call and returns the raw items grouped
// by category key. Transport errors are returned; malformed envelopes are
// logged and yield an empty map.
func (c *Client) FetchAll(ctx context.Context) (map[string][]normalize.RawRecord, error) {
	body, err := json.Marshal(fetchRequest{Content: c.content, ChainID: c.chainID, Sync: true})
	if err != nil {
		return nil, fmt.Errorf("encoding ingest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ingest endpoint returned %d: %s", resp.StatusCode, excerpt)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		logger.Warn("ingest envelope is not valid JSON", map[string]any{"error": err.Error()})
		return map[string][]normalize.RawRecord{}, nil
	}

	return parseEnvelope(env), nil
}

// parseEnvelope unwraps the nested response structure. The inner response is
// either an object whose content field holds a JSON-encoded mapping, a
// structured mapping directly, or a JSON-encoded string of either. A bare
// list coerces to DefaultCategory. Anything else yields an empty map.
func parseEnvelope(env envelope) map[string][]normalize.RawRecord {
	empty := map[string][]normalize.RawRecord{}

	if env.ResStatusCode != statusSuccess {
		logger.Warn("ingest envelope status is not success", map[string]any{"status": env.ResStatusCode})
		return empty
	}
	if len(env.ResContent.Response) == 0 {
		return empty
	}

	payload := env.ResContent.Response

	// The response may itself be a JSON-encoded string.
	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		payload = json.RawMessage(asString)
	} else {
		// Or an object carrying the real payload in its content field.
		var wrapper struct {
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(payload, &wrapper); err == nil && len(wrapper.Content) > 0 {
			inner := wrapper.Content
			if err := json.Unmarshal(inner, &asString); err == nil {
				inner = json.RawMessage(asString)
			}
			payload = inner
		}
	}

	// Per-category lists are decoded individually so one malformed value
	// cannot discard the whole mapping.
	var byKey map[string]json.RawMessage
	if err := json.Unmarshal(payload, &byKey); err == nil {
		out := make(map[string][]normalize.RawRecord, len(byKey))
		for key, raw := range byKey {
			var items []normalize.RawRecord
			if err := json.Unmarshal(raw, &items); err != nil {
				continue
			}
			out[key] = items
		}
		return out
	}

	var bare []normalize.RawRecord
	if err := json.Unmarshal(payload, &bare); err == nil {
		return map[string][]normalize.RawRecord{DefaultCategory: bare}
	}

	logger.Warn("ingest response shape not recognized", nil)
	return empty
}
